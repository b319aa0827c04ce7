//go:build e2e

package e2e

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	paho "github.com/eclipse/paho.mqtt.golang"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const repoRootRel = ".."   // relative to ./e2e
const mainPkgRel = "./cmd" // main.go lives in cmd/

const mosquittoConf = "listener 1883\nallow_anonymous true\n"

const mqttPort = nat.Port("1883/tcp")

func TestSmoke_PublishesTemperature(t *testing.T) {
	repoRoot := repoRootPath(t)

	brokerHost, brokerPort := startMosquitto(t)
	st := startSensorThings(t)

	received := subscribe(t, brokerHost, brokerPort, "opensmartcity/weather/temperature")

	bin := buildBinary(t, repoRoot)
	addr := pickFreeAddr(t)

	cmd := exec.Command(bin)
	cmd.Env = append(os.Environ(),
		"APP_ENV=dev",
		"LOG_LEVEL=info",
		"HTTP_ADDR="+addr,
		"SENSORTHINGS_BASE_URL="+st.URL+"/FROST-Server",
		"REFERENCE_LOCATION=51.17,7.08",
		"STATION_MODE=nearest",
		"REFRESH_INTERVAL=1h",
		"MQTT_BROKER="+brokerHost,
		"MQTT_PORT="+strconv.Itoa(brokerPort),
		"DB_DRIVER=sqlite3",
		"SQLITE_PATH="+filepath.Join(t.TempDir(), "state.db"),
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		t.Fatalf("start bridge: %v", err)
	}
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
		_, _ = cmd.Process.Wait()
	})

	client := &http.Client{Timeout: 2 * time.Second}
	waitForOK(t, client, "http://"+addr+"/healthz", 10*time.Second)

	select {
	case payload := <-received:
		var msg struct {
			Thing   string  `json:"thing"`
			Channel string  `json:"channel"`
			Value   float64 `json:"value"`
			Unit    string  `json:"unit"`
		}
		if err := json.Unmarshal(payload, &msg); err != nil {
			t.Fatalf("decode payload %q: %v", payload, err)
		}
		if msg.Value != 21.4 || msg.Unit != "°C" || msg.Channel != "temperature" {
			t.Fatalf("payload = %+v; want temperature 21.4 °C", msg)
		}
	case <-time.After(20 * time.Second):
		t.Fatal("no temperature message received")
	}

	stopServer(t, cmd)
}

func startMosquitto(t *testing.T) (string, int) {
	t.Helper()
	ctx := context.Background()

	req := tc.ContainerRequest{
		Image:        "eclipse-mosquitto:2",
		ExposedPorts: []string{string(mqttPort)},
		Files: []tc.ContainerFile{{
			Reader:            strings.NewReader(mosquittoConf),
			ContainerFilePath: "/mosquitto/config/mosquitto.conf",
			FileMode:          0o644,
		}},
		WaitingFor: wait.ForListeningPort(mqttPort).WithStartupTimeout(30 * time.Second),
	}

	c, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("start mosquitto container: %v", err)
	}
	t.Cleanup(func() {
		_ = c.Terminate(ctx)
	})

	host, err := c.Host(ctx)
	if err != nil {
		t.Fatalf("mosquitto host: %v", err)
	}
	port, err := c.MappedPort(ctx, mqttPort)
	if err != nil {
		t.Fatalf("mosquitto port: %v", err)
	}
	return host, port.Int()
}

func startSensorThings(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/v1.1/Locations"):
			_, _ = io.WriteString(w, `{"value":[{"@iot.id":1,"name":"Dorper Straße / Goerdeler Straße",`+
				`"location":{"type":"Point","coordinates":[7.08,51.17]},"Things":[{"properties":{"status":"online"}}]}]}`)
		case strings.HasSuffix(r.URL.Path, "/v1.1/Datastreams"):
			result := "63"
			if strings.Contains(r.URL.Query().Get("$filter"), "'lufttemperatur'") {
				result = "21.4"
			}
			_, _ = io.WriteString(w, `{"value":[{"Observations":[{"result":`+result+`}]}]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

// subscribe delivers retained and live payloads on topic.
func subscribe(t *testing.T, host string, port int, topic string) <-chan []byte {
	t.Helper()
	out := make(chan []byte, 4)

	opts := paho.NewClientOptions().
		AddBroker("tcp://" + net.JoinHostPort(host, strconv.Itoa(port))).
		SetClientID("e2e-subscriber")
	client := paho.NewClient(opts)
	if tok := client.Connect(); !tok.WaitTimeout(10*time.Second) || tok.Error() != nil {
		t.Fatalf("subscriber connect: %v", tok.Error())
	}
	t.Cleanup(func() { client.Disconnect(250) })

	tok := client.Subscribe(topic, 1, func(_ paho.Client, m paho.Message) {
		select {
		case out <- m.Payload():
		default:
		}
	})
	if !tok.WaitTimeout(10*time.Second) || tok.Error() != nil {
		t.Fatalf("subscribe %s: %v", topic, tok.Error())
	}
	return out
}

func repoRootPath(t *testing.T) string {
	t.Helper()

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}

	repo := filepath.Clean(filepath.Join(wd, repoRootRel))
	if _, err := os.Stat(filepath.Join(repo, "go.mod")); err != nil {
		t.Fatalf("repo root %q does not contain go.mod: %v", repo, err)
	}

	return repo
}

func buildBinary(t *testing.T, repoRoot string) string {
	t.Helper()

	out := filepath.Join(t.TempDir(), "opensmartcity-bridge")

	build := exec.Command("go", "build", "-o", out, mainPkgRel)
	build.Dir = repoRoot
	build.Env = os.Environ()

	b, err := build.CombinedOutput()
	if err != nil {
		t.Fatalf("go build failed: %v\n%s", err, string(b))
	}

	return out
}

func pickFreeAddr(t *testing.T) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen :0: %v", err)
	}
	defer ln.Close()

	return ln.Addr().String()
}

func waitForOK(t *testing.T, client *http.Client, url string, timeout time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := client.Get(url)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("bridge not healthy after %s: %s", timeout, url)
}

func stopServer(t *testing.T, cmd *exec.Cmd) {
	t.Helper()

	_ = cmd.Process.Signal(syscall.SIGTERM)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		t.Fatalf("bridge did not exit in time")
	case err := <-done:
		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				t.Fatalf("bridge exited non-zero: %v", err)
			}
			t.Fatalf("bridge wait error: %v", err)
		}
	}
}
