package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hotovec/mails/internal/config"
)

func TestInjectReloadScript(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "before closing body",
			doc:  "<html><body><p>hi</p></body></html>",
			want: "<html><body><p>hi</p>" + reloadScript + "</body></html>",
		},
		{
			name: "upper case body",
			doc:  "<BODY>x</BODY>",
			want: "<BODY>x" + reloadScript + "</BODY>",
		},
		{
			name: "last body wins",
			doc:  "<body><!-- </body> --></body>",
			want: "<body><!-- </body> -->" + reloadScript + "</body>",
		},
		{
			name: "fragment",
			doc:  "<table></table>",
			want: "<table></table>" + reloadScript,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, string(injectReloadScript([]byte(tt.doc))))
		})
	}
}

// startServer serves a temp output tree on a loopback port and returns its
// address.
func startServer(t *testing.T, files map[string]string, opts Options) (*Server, string) {
	t.Helper()

	dist := t.TempDir()
	layout := config.NewLayout(t.TempDir(), dist, "newsletter")
	for name, content := range files {
		p := filepath.Join(layout.Dst, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := New(config.ServerConfig{Host: "127.0.0.1", Port: 0}, layout, opts)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Error("server did not shut down")
		}
	})
	return s, ln.Addr().String()
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestServerRoutes(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "mails_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	_, addr := startServer(t, map[string]string{
		"welcome.html":     "<html><head><title>Welcome aboard</title></head><body>hi</body></html>",
		"promo/sale.html":  "<html><body>sale</body></html>",
		"css/app.css":      "p{color:red}",
		"assets/img/a.png": "png",
	}, Options{Gatherer: reg})
	base := "http://" + addr

	t.Run("index lists documents", func(t *testing.T) {
		resp, body := get(t, base+"/")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, body, `<h1>newsletter</h1>`)
		assert.Contains(t, body, `<a href="/welcome.html">Welcome aboard</a>`)
		assert.Contains(t, body, `<a href="/promo/sale.html">sale</a>`)
		assert.Contains(t, body, "/livereload")
	})

	t.Run("documents get the reload script", func(t *testing.T) {
		resp, body := get(t, base+"/welcome.html")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "text/html; charset=utf-8", resp.Header.Get("Content-Type"))
		assert.Contains(t, body, "hi"+reloadScript+"</body>")
	})

	t.Run("assets are served unchanged", func(t *testing.T) {
		resp, body := get(t, base+"/css/app.css")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "p{color:red}", body)

		_, body = get(t, base+"/assets/img/a.png")
		assert.Equal(t, "png", body)
	})

	t.Run("missing document", func(t *testing.T) {
		resp, _ := get(t, base+"/nope.html")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("no escape from the output tree", func(t *testing.T) {
		resp, _ := get(t, base+"/../../etc/passwd.html")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("health", func(t *testing.T) {
		resp, body := get(t, base+"/health")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.JSONEq(t, `{"status":"ok"}`, body)
	})

	t.Run("metrics", func(t *testing.T) {
		resp, body := get(t, base+"/metrics")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, body, "mails_test_total 1")
	})
}

func TestLiveReload(t *testing.T) {
	s, addr := startServer(t, nil, Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+addr+"/livereload", &websocket.DialOptions{
		HTTPHeader: http.Header{"Origin": []string{"http://" + addr}},
	})
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	require.Eventually(t, func() bool { return s.Hub().Clients() == 1 }, 5*time.Second, 10*time.Millisecond)

	s.Reload("build-1")

	typ, data, err := conn.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, websocket.MessageText, typ)

	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, Message{Type: "reload", BuildID: "build-1"}, msg)

	conn.Close(websocket.StatusNormalClosure, "")
	require.Eventually(t, func() bool { return s.Hub().Clients() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestLiveReloadRejectsForeignOrigin(t *testing.T) {
	tests := []struct {
		name   string
		origin string
	}{
		{name: "other host", origin: "http://evil.example"},
		{name: "no origin", origin: ""},
		{name: "file scheme", origin: "file://localhost"},
	}

	_, addr := startServer(t, nil, Options{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			header := http.Header{}
			if tt.origin != "" {
				header.Set("Origin", tt.origin)
			}
			_, resp, err := websocket.Dial(ctx, "ws://"+addr+"/livereload", &websocket.DialOptions{HTTPHeader: header})
			require.Error(t, err)
			require.NotNil(t, resp)
			assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		})
	}
}

func TestReloadWithoutClients(t *testing.T) {
	s := New(config.ServerConfig{Host: "localhost", Port: 3000}, config.NewLayout("p", "d", "x"), Options{})
	for i := 0; i < 2*sendBuffer; i++ {
		s.Reload("b")
	}
	assert.Equal(t, 0, s.Hub().Clients())
}

func TestHostAliases(t *testing.T) {
	assert.Equal(t, []string{"localhost:3000", "127.0.0.1:3000"}, hostAliases("localhost", 3000))
	assert.Equal(t, []string{"0.0.0.0:8080", "localhost:8080", "127.0.0.1:8080"}, hostAliases("0.0.0.0", 8080))
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	s := New(config.ServerConfig{Host: "127.0.0.1", Port: port}, config.NewLayout(t.TempDir(), t.TempDir(), "x"), Options{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
}
