package main

import (
	"context"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-resty/resty/v2"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Zachkp/about-me/internal/config"
	"github.com/Zachkp/about-me/internal/store"
	"github.com/Zachkp/about-me/internal/views"
)

type viewsResponse struct {
	Views          uint64 `json:"views"`
	UniqueVisitors int    `json:"uniqueVisitors"`
	IsNewVisitor   bool   `json:"isNewVisitor"`
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	Error          string `json:"error"`
}

var _ = Describe("View routes", func() {
	var (
		dir     string
		path    string
		cfg     *config.Config
		backend *store.FileStore
		srv     *httptest.Server
		client  *resty.Client
	)

	start := func() {
		reg := prometheus.NewRegistry()
		s := &server{
			tracker:  views.NewTracker(backend, views.WithMetrics(views.NewMetrics(reg))),
			backend:  backend,
			identity: newIdentityResolver(cfg),
			registry: reg,
		}
		srv = httptest.NewServer(newRouter(s))
		client = resty.New().SetBaseURL(srv.URL)
	}

	visit := func(headers map[string]string) (*resty.Response, *viewsResponse) {
		out := &viewsResponse{}
		resp, err := client.R().SetHeaders(headers).SetResult(out).SetError(out).Get("/views")
		Expect(err).NotTo(HaveOccurred())
		return resp, out
	}

	BeforeEach(func() {
		var err error
		dir, err = ioutil.TempDir("", "routes")
		Expect(err).NotTo(HaveOccurred())

		path = filepath.Join(dir, "data", "views.json")
		backend = store.NewFileStore(path)
		cfg = &config.Config{IdentityHeaders: []string{"X-Forwarded-For", "X-Real-IP"}}
	})

	JustBeforeEach(func() {
		start()
	})

	AfterEach(func() {
		srv.Close()
		os.RemoveAll(dir)
	})

	It("should count each forwarded address once", func() {
		resp, body := visit(map[string]string{"X-Forwarded-For": "10.0.0.1"})
		Expect(resp.StatusCode()).To(Equal(http.StatusOK))
		Expect(*body).To(Equal(viewsResponse{Views: 1, UniqueVisitors: 1, IsNewVisitor: true, Success: true}))

		_, body = visit(map[string]string{"X-Forwarded-For": "10.0.0.1"})
		Expect(*body).To(Equal(viewsResponse{Views: 1, UniqueVisitors: 1, IsNewVisitor: false, Success: true}))

		_, body = visit(map[string]string{"X-Forwarded-For": "10.0.0.2"})
		Expect(*body).To(Equal(viewsResponse{Views: 2, UniqueVisitors: 2, IsNewVisitor: true, Success: true}))
	})

	It("should fall back to X-Real-IP and then to unknown", func() {
		visit(map[string]string{"X-Real-IP": "192.168.1.5"})
		visit(nil)
		visit(nil)

		l, err := backend.Load(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(l.Visitors()).To(ConsistOf("192.168.1.5", "unknown"))
		Expect(l.TotalViews).To(Equal(uint64(2)))
	})

	It("should prefer X-Forwarded-For and keep its raw value", func() {
		visit(map[string]string{
			"X-Forwarded-For": "203.0.113.7, 10.0.0.1",
			"X-Real-IP":       "10.0.0.1",
		})

		l, err := backend.Load(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(l.Visitors()).To(Equal([]string{"203.0.113.7, 10.0.0.1"}))
	})

	It("should force an increment on POST", func() {
		visit(map[string]string{"X-Forwarded-For": "10.0.0.1"})

		out := &viewsResponse{}
		resp, err := client.R().SetResult(out).Post("/views")
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode()).To(Equal(http.StatusOK))
		Expect(out.Views).To(Equal(uint64(2)))
		Expect(out.UniqueVisitors).To(Equal(1))
		Expect(out.Success).To(BeTrue())
		Expect(out.Message).NotTo(BeEmpty())
	})

	It("should report healthy", func() {
		resp, err := client.R().Get("/healthz")

		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode()).To(Equal(http.StatusOK))
		Expect(resp.Body()).To(MatchJSON(`{"status": "ok"}`))
	})

	It("should expose metrics", func() {
		visit(map[string]string{"X-Forwarded-For": "10.0.0.1"})

		resp, err := client.R().Get("/metrics")

		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode()).To(Equal(http.StatusOK))
		Expect(resp.String()).To(ContainSubstring(`views_recorded_total{result="new"} 1`))
		Expect(resp.String()).To(ContainSubstring(`http_requests_total{method="GET",path="/views",status="200"} 1`))
	})

	Context("with a malformed ledger", func() {
		BeforeEach(func() {
			Expect(os.MkdirAll(filepath.Dir(path), 0o755)).To(Succeed())
			Expect(ioutil.WriteFile(path, []byte("{oops"), 0o644)).To(Succeed())
		})

		It("should answer GET with a server error", func() {
			resp, body := visit(map[string]string{"X-Forwarded-For": "10.0.0.1"})

			Expect(resp.StatusCode()).To(Equal(http.StatusInternalServerError))
			Expect(body.Success).To(BeFalse())
			Expect(body.Error).To(Equal("Failed to process view count"))
		})

		It("should answer POST with a server error", func() {
			out := &viewsResponse{}
			resp, err := client.R().SetError(out).Post("/views")

			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode()).To(Equal(http.StatusInternalServerError))
			Expect(out.Success).To(BeFalse())
			Expect(out.Error).To(Equal("Failed to increment view count"))
		})

		It("should report unhealthy", func() {
			resp, err := client.R().Get("/healthz")

			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode()).To(Equal(http.StatusServiceUnavailable))
		})
	})

	Context("with Do-Not-Track respected", func() {
		BeforeEach(func() {
			cfg.RespectDNT = true
		})

		It("should report counts without recording", func() {
			visit(map[string]string{"X-Forwarded-For": "10.0.0.1"})

			resp, body := visit(map[string]string{"X-Forwarded-For": "10.0.0.2", "DNT": "1"})
			Expect(resp.StatusCode()).To(Equal(http.StatusOK))
			Expect(*body).To(Equal(viewsResponse{Views: 1, UniqueVisitors: 1, IsNewVisitor: false, Success: true}))

			l, err := backend.Load(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(l.Knows("10.0.0.2")).To(BeFalse())
		})
	})

	Context("with a hash salt", func() {
		BeforeEach(func() {
			cfg.HashSalt = "pepper"
		})

		It("should store hashed identities that still deduplicate", func() {
			_, first := visit(map[string]string{"X-Forwarded-For": "10.0.0.1"})
			_, second := visit(map[string]string{"X-Forwarded-For": "10.0.0.1"})

			Expect(first.IsNewVisitor).To(BeTrue())
			Expect(second.IsNewVisitor).To(BeFalse())

			data, err := ioutil.ReadFile(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).NotTo(ContainSubstring("10.0.0.1"))

			l, err := backend.Load(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(l.Visitors()).To(HaveLen(1))
			Expect(strings.Trim(l.Visitors()[0], "0123456789abcdef")).To(BeEmpty())
			Expect(l.Visitors()[0]).To(HaveLen(16))
		})
	})
})
