package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	service "github.com/okian/dreamscore/internal/app"
	"github.com/okian/dreamscore/internal/config"
	"github.com/okian/dreamscore/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

func newTestService(t *testing.T) *service.Assembly {
	t.Helper()
	dir := t.TempDir()
	body := "SUBJECTID,SHEDDING_SC1\na,1\nb,0\nc,1\nd,0\n"
	if err := os.WriteFile(filepath.Join(dir, "gold.csv"), []byte(body), 0o600); err != nil {
		t.Fatalf("write gold: %v", err)
	}
	cfg := config.New(context.Background())
	cfg.GoldStandardDir = dir
	cfg.WatchGoldStandards = false
	cfg.PermutationIterations = 9
	cfg.Evaluations = []config.Evaluation{{ID: "5821575", Name: "DARPA-SC1", Question: "SC1", GoldStandard: "gold.csv"}}

	asm, err := service.FromConfig(context.Background(), cfg, logger.Nop())
	if err != nil {
		t.Fatalf("wire: %v", err)
	}
	return asm
}

func TestMainFunction(t *testing.T) {
	convey.Convey("Given the main application", t, func() {
		convey.Convey("When testing configuration loading", func() {
			t.Setenv("DREAMSCORE_ADDR", ":8080")
			t.Setenv("DREAMSCORE_QUEUE_SIZE", "100")
			t.Setenv("DREAMSCORE_WORKER_COUNT", "4")

			convey.Convey("Then configuration should be loadable", func() {
				cfg, err := config.Load(context.Background())
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.QueueSize, convey.ShouldEqual, 100)
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 4)
				convey.So(len(cfg.Evaluations), convey.ShouldEqual, 3)
			})
		})

		convey.Convey("When building the router", func() {
			ctx := context.Background()
			asm := newTestService(t)
			convey.So(asm.Service.Start(ctx), convey.ShouldBeNil)
			defer func() { _ = asm.Close(ctx) }()
			h := newRouter(ctx, asm.Service)

			convey.Convey("Then the health and docs routes should answer", func() {
				for _, path := range []string{"/healthz", "/api-docs", "/openapi.yaml", "/metrics"} {
					rec := httptest.NewRecorder()
					h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
					convey.So(rec.Code, convey.ShouldEqual, http.StatusOK)
				}
			})

			convey.Convey("Then a submission should be accepted and scored", func() {
				req := httptest.NewRequest(http.MethodPost, "/evaluations/5821575/submissions?userId=u1&name=run1",
					strings.NewReader("SUBJECTID,SHEDDING_SC1\na,0.9\nb,0.1\nc,0.8\nd,0.2\n"))
				req.Header.Set("Content-Type", "text/csv")
				rec := httptest.NewRecorder()
				h.ServeHTTP(rec, req)
				convey.So(rec.Code, convey.ShouldEqual, http.StatusAccepted)

				var accepted struct {
					Submission struct {
						ID string `json:"id"`
					} `json:"submission"`
				}
				convey.So(json.Unmarshal(rec.Body.Bytes(), &accepted), convey.ShouldBeNil)
				convey.So(accepted.Submission.ID, convey.ShouldNotBeEmpty)

				var state string
				deadline := time.Now().Add(5 * time.Second)
				for time.Now().Before(deadline) {
					rec := httptest.NewRecorder()
					h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/submissions/"+accepted.Submission.ID, nil))
					var st struct {
						State string `json:"state"`
					}
					_ = json.Unmarshal(rec.Body.Bytes(), &st)
					state = st.State
					if state == "SCORED" || state == "INVALID" || state == "ERROR" {
						break
					}
					time.Sleep(10 * time.Millisecond)
				}
				convey.So(state, convey.ShouldEqual, "SCORED")
			})
		})
	})
}

func TestMainApplicationComponents(t *testing.T) {
	convey.Convey("Given main application components", t, func() {
		convey.Convey("When updating system metrics", func() {
			convey.So(updateSystemMetrics, convey.ShouldNotPanic)
		})

		convey.Convey("When the metrics updater context is cancelled", func() {
			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan struct{})
			go func() {
				startSystemMetricsUpdater(ctx)
				close(done)
			}()
			cancel()

			convey.Convey("Then the updater should return", func() {
				select {
				case <-done:
					convey.So(true, convey.ShouldBeTrue)
				case <-time.After(time.Second):
					convey.So("updater still running", convey.ShouldBeEmpty)
				}
			})
		})
	})
}
