//go:build e2e

package e2e

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	paho "github.com/eclipse/paho.mqtt.golang"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const repoRootRel = ".."
const mainPkgRel = "./cmd/publisher"

const mqttPort = nat.Port("1883/tcp")

func TestSmoke_PublishLoop(t *testing.T) {
	repoRoot := repoRootPath(t)
	brokerHost, brokerPort := startMosquitto(t)
	cloud := startFakeCloud(t)

	received := make(chan []byte, 16)
	subscribe(t, brokerHost, brokerPort, "stations/e2e/telemetry", received)

	bin := buildBinary(t, repoRoot)
	addr := pickFreeAddr(t)

	cmd := exec.Command(bin)
	cmd.Env = append(os.Environ(),
		"APP_ENV=dev",
		"LOG_LEVEL=debug",
		"WIFI_BACKEND=interface",
		"WIFI_INTERFACE=lo",
		"CLOUD_URL="+cloud.srv.URL,
		"CLOUD_KEY=E2EWRITEKEY",
		"PUBLISH_INTERVAL=1s",
		"SENSOR_KIND=constant",
		"SENSOR_VALUE=22.5",
		"MQTT_BROKER="+brokerHost,
		"MQTT_PORT="+brokerPort,
		"DEVICE_STATION_ID=e2e",
		"JOURNAL_PATH="+filepath.Join(t.TempDir(), "journal.db"),
		"HTTP_ADDR="+addr,
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		t.Fatalf("start publisher: %v", err)
	}
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
		_, _ = cmd.Process.Wait()
	})

	client := &http.Client{Timeout: 2 * time.Second}
	waitForOK(t, client, "http://"+addr+"/healthz", 10*time.Second)

	bodies := cloud.waitFor(t, 2, 15*time.Second)
	for i, b := range bodies {
		if len(b) != 2 || b["api_key"] != "E2EWRITEKEY" || b["field1"] != 22.5 {
			t.Fatalf("post %d body = %v", i, b)
		}
	}

	select {
	case msg := <-received:
		var tel map[string]any
		if err := json.Unmarshal(msg, &tel); err != nil {
			t.Fatalf("decode telemetry: %v", err)
		}
		if tel["station_id"] != "e2e" || tel["temperature_c"] != 22.5 {
			t.Fatalf("telemetry = %v", tel)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("no telemetry mirrored to mqtt")
	}

	resp, err := client.Get("http://" + addr + "/publishes?limit=1")
	if err != nil {
		t.Fatalf("GET /publishes: %v", err)
	}
	defer resp.Body.Close()
	var pubs []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&pubs); err != nil {
		t.Fatalf("decode publishes: %v", err)
	}
	if len(pubs) != 1 || pubs[0]["status"] != float64(http.StatusOK) {
		t.Fatalf("publishes = %v", pubs)
	}

	stopPublisher(t, cmd)
}

type fakeCloud struct {
	srv *httptest.Server

	mu     sync.Mutex
	bodies []map[string]any
}

func startFakeCloud(t *testing.T) *fakeCloud {
	t.Helper()

	fc := &fakeCloud{}
	fc.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		fc.mu.Lock()
		fc.bodies = append(fc.bodies, body)
		n := len(fc.bodies)
		fc.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"channel_id":1,"entry_id":%d}`, n)
	}))
	t.Cleanup(fc.srv.Close)
	return fc
}

func (fc *fakeCloud) waitFor(t *testing.T, n int, timeout time.Duration) []map[string]any {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		fc.mu.Lock()
		if len(fc.bodies) >= n {
			out := append([]map[string]any(nil), fc.bodies...)
			fc.mu.Unlock()
			return out
		}
		fc.mu.Unlock()
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("fewer than %d posts after %s", n, timeout)
	return nil
}

func startMosquitto(t *testing.T) (string, string) {
	t.Helper()

	ctx := context.Background()
	req := tc.ContainerRequest{
		Image:        "eclipse-mosquitto:2",
		Cmd:          []string{"mosquitto", "-c", "/mosquitto-no-auth.conf"},
		ExposedPorts: []string{string(mqttPort)},
		WaitingFor:   wait.ForListeningPort(mqttPort).WithStartupTimeout(30 * time.Second),
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
	return host, port.Port()
}

func subscribe(t *testing.T, host, port, topic string, out chan<- []byte) {
	t.Helper()

	opts := paho.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%s", host, port)).
		SetClientID("e2e-subscriber")
	c := paho.NewClient(opts)
	if tok := c.Connect(); !tok.WaitTimeout(10*time.Second) || tok.Error() != nil {
		t.Fatalf("subscriber connect: %v", tok.Error())
	}
	t.Cleanup(func() { c.Disconnect(250) })

	tok := c.Subscribe(topic, 1, func(_ paho.Client, m paho.Message) {
		select {
		case out <- m.Payload():
		default:
		}
	})
	if !tok.WaitTimeout(5*time.Second) || tok.Error() != nil {
		t.Fatalf("subscribe %s: %v", topic, tok.Error())
	}
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

	out := filepath.Join(t.TempDir(), "cloudpico-publisher")
	build := exec.Command("go", "build", "-o", out, mainPkgRel)
	build.Dir = repoRoot
	build.Env = os.Environ()

	if b, err := build.CombinedOutput(); err != nil {
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
	t.Fatalf("publisher not healthy after %s: %s", timeout, url)
}

func stopPublisher(t *testing.T, cmd *exec.Cmd) {
	t.Helper()

	_ = cmd.Process.Signal(syscall.SIGTERM)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		t.Fatal("publisher did not exit in time")
	case err := <-done:
		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				t.Fatalf("publisher exited non-zero: %v", err)
			}
			t.Fatalf("publisher wait error: %v", err)
		}
	}
}
