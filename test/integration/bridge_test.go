// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugBridge Contributors

//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/plugbridge/plugbridge/internal/api"
	"github.com/plugbridge/plugbridge/internal/bridge"
	"github.com/plugbridge/plugbridge/internal/fetch"
	"github.com/plugbridge/plugbridge/internal/observability"
	"github.com/plugbridge/plugbridge/internal/plugin"
	"github.com/plugbridge/plugbridge/internal/wasm/wasmtest"
	"github.com/plugbridge/plugbridge/internal/worker"
)

// stack is one running bridge with its API and observability servers.
type stack struct {
	caller  bridge.Caller
	api     *api.Server
	obs     *observability.Server
	apiBase string
}

func startStack(ctx context.Context, source string) *stack {
	src := fetch.New(fetch.Options{})
	cfg := plugin.NewConfig(source, []string{"add"},
		plugin.WithName("adder"),
		plugin.WithType(plugin.TypeCore),
	)
	caller := bridge.New(ctx, func(context.Context) (*plugin.Manager, error) {
		return plugin.NewManager(cfg, plugin.WithSource(src))
	}, bridge.WithWorkerOptions(worker.WithFetchSource(src)))

	obs := observability.NewServer("127.0.0.1:0",
		func() bool { return caller.Status().IsReady },
		observability.WithReadinessDetail(func() string { return caller.Status().Error }),
	)
	bridge.RegisterMetrics(obs.Registry())
	plugin.RegisterMetrics(obs.Registry())
	worker.RegisterMetrics(obs.Registry())
	_, err := obs.Start()
	Expect(err).NotTo(HaveOccurred())

	apiServer := api.NewServer("127.0.0.1:0", caller, api.WithMetrics(obs.Metrics()))
	_, err = apiServer.Start()
	Expect(err).NotTo(HaveOccurred())

	return &stack{caller: caller, api: apiServer, obs: obs, apiBase: "http://" + apiServer.Addr()}
}

func (s *stack) stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	Expect(s.api.Stop(ctx)).To(Succeed())
	Expect(s.obs.Stop(ctx)).To(Succeed())
	Expect(s.caller.Close()).To(Succeed())
}

func (s *stack) post(path, body string) (int, map[string]any) {
	resp, err := http.Post(s.apiBase+path, "application/json", strings.NewReader(body))
	Expect(err).NotTo(HaveOccurred())
	defer resp.Body.Close()
	var out map[string]any
	Expect(json.NewDecoder(resp.Body).Decode(&out)).To(Succeed())
	return resp.StatusCode, out
}

func get(url string) (int, string) {
	resp, err := http.Get(url)
	Expect(err).NotTo(HaveOccurred())
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	Expect(err).NotTo(HaveOccurred())
	return resp.StatusCode, string(data)
}

func jsonInts(n int32) string {
	b, _ := json.Marshal([]int32{n})
	return string(b)
}

var _ = Describe("Plugin bridge over HTTP", func() {
	var (
		ctx       context.Context
		cancel    context.CancelFunc
		pluginSrv *httptest.Server
	)

	BeforeEach(func() {
		ctx, cancel = context.WithCancel(context.Background())
		mux := http.NewServeMux()
		mux.HandleFunc("GET /add.wasm", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write(wasmtest.AddModule)
		})
		pluginSrv = httptest.NewServer(mux)
	})

	AfterEach(func() {
		pluginSrv.Close()
		cancel()
	})

	Context("when the plugin loads", func() {
		var s *stack

		BeforeEach(func() {
			s = startStack(ctx, pluginSrv.URL+"/add.wasm")
			waitCtx, waitCancel := context.WithTimeout(ctx, 10*time.Second)
			defer waitCancel()
			Expect(s.caller.WaitReady(waitCtx)).To(Succeed())
		})

		AfterEach(func() {
			s.stop()
		})

		It("reports ready on the API and the readiness probe", func() {
			code, body := get(s.apiBase + "/api/status")
			Expect(code).To(Equal(http.StatusOK))
			Expect(body).To(ContainSubstring(`"isReady":true`))

			code, _ = get("http://" + s.obs.Addr() + "/healthz/readiness")
			Expect(code).To(Equal(http.StatusOK))
		})

		It("serves the add export", func() {
			code, out := s.post("/api/add", `{"a":20,"b":22}`)
			Expect(code).To(Equal(http.StatusOK))
			Expect(out["result"]).To(MatchJSON(`[42]`))
		})

		It("correlates concurrent calls", func() {
			var wg sync.WaitGroup
			results := make([]string, 16)
			for i := range results {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					got, err := s.caller.Add(ctx, int32(i), 1)
					Expect(err).NotTo(HaveOccurred())
					results[i] = got
				}()
			}
			wg.Wait()
			for i, got := range results {
				Expect(got).To(MatchJSON(jsonInts(int32(i) + 1)))
			}
		})

		It("rejects exports the plugin does not have", func() {
			code, out := s.post("/api/call/missing", `{"input":""}`)
			Expect(code).To(Equal(http.StatusUnprocessableEntity))
			Expect(out["code"]).To(Equal(bridge.CodeCallFailed))
		})

		It("exposes call metrics", func() {
			s.post("/api/add", `{"a":1,"b":2}`)
			code, body := get("http://" + s.obs.Addr() + "/metrics")
			Expect(code).To(Equal(http.StatusOK))
			Expect(body).To(ContainSubstring("plugbridge_calls_total"))
			Expect(body).To(ContainSubstring("plugbridge_api_requests_total"))
			Expect(body).To(ContainSubstring("plugbridge_plugin_loads_total"))
		})
	})

	Context("when the plugin URL is missing", func() {
		It("reports the fetch failure and refuses calls", func() {
			s := startStack(ctx, pluginSrv.URL+"/missing.wasm")
			defer s.stop()

			waitCtx, waitCancel := context.WithTimeout(ctx, 10*time.Second)
			defer waitCancel()
			Expect(s.caller.WaitReady(waitCtx)).To(HaveOccurred())

			status := s.caller.Status()
			Expect(status.IsReady).To(BeFalse())
			Expect(status.IsLoading).To(BeFalse())
			Expect(status.Error).To(ContainSubstring("404 Not Found"))

			code, out := s.post("/api/add", `{"a":1,"b":2}`)
			Expect(code).To(Equal(http.StatusServiceUnavailable))
			Expect(out["code"]).To(Equal(bridge.CodeNotReady))

			code, body := get("http://" + s.obs.Addr() + "/healthz/readiness")
			Expect(code).To(Equal(http.StatusServiceUnavailable))
			Expect(body).To(ContainSubstring("404 Not Found"))
		})
	})
})
