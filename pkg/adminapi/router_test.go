package adminapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/signaldata/loaderengine/internal/crypto"
	"github.com/signaldata/loaderengine/pkg/models"
	"github.com/signaldata/loaderengine/pkg/validation"
)

var _ = Describe("Router", func() {
	var (
		loaders *fakeLoaderStore
		history *fakeHistoryStore
		server  *httptest.Server
	)

	BeforeEach(func() {
		loaders = &fakeLoaderStore{loader: &models.Loader{LoaderCode: "SIG_A", MinIntervalSeconds: 60}}
		history = &fakeHistoryStore{}
		cryptoSvc, err := crypto.NewService(testKey)
		Expect(err).NotTo(HaveOccurred())
		svc := New(loaders, history, cryptoSvc)
		router := NewRouter(svc, CORSOrigins{"*"})
		server = httptest.NewServer(router)
	})

	AfterEach(func() {
		server.Close()
	})

	It("returns the loader definition on lookup", func() {
		resp, err := http.Get(server.URL + "/loaders/SIG_A/")
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		var loader models.Loader
		Expect(json.NewDecoder(resp.Body).Decode(&loader)).To(Succeed())
		Expect(loader.LoaderCode).To(Equal("SIG_A"))
	})

	It("returns a 404 problem detail for an unknown loader", func() {
		loaders.getErr = validation.NewNotFound(`loader "MISSING" not found`)
		resp, err := http.Get(server.URL + "/loaders/MISSING/")
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		Expect(resp.Header.Get("Content-Type")).To(Equal("application/problem+json"))
	})

	It("falls back to a 500 for a plain, unclassified error", func() {
		loaders.getErr = plainErr{}
		resp, err := http.Get(server.URL + "/loaders/SIG_A/")
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
	})

	It("pauses a loader via POST", func() {
		resp, err := http.Post(server.URL+"/loaders/SIG_A/pause", "application/json", nil)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
		Expect(loaders.paused).To(ContainElement("SIG_A"))
	})

	It("applies a PATCH update", func() {
		body, _ := json.Marshal(map[string]any{"minIntervalSeconds": 600})
		req, _ := http.NewRequest(http.MethodPatch, server.URL+"/loaders/SIG_A/", bytes.NewReader(body))
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(loaders.updated.MinIntervalSeconds).To(Equal(600))
	})

	It("queries history with a limit query parameter", func() {
		history.rows = []models.LoadHistory{{LoaderCode: "SIG_A", Status: models.HistorySuccess}}
		resp, err := http.Get(server.URL + "/loaders/SIG_A/history?limit=25")
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(history.filter.Limit).To(Equal(25))

		var rows []models.LoadHistory
		Expect(json.NewDecoder(resp.Body).Decode(&rows)).To(Succeed())
		Expect(rows).To(HaveLen(1))
	})

	It("rejects a malformed adjust-timestamp body", func() {
		resp, err := http.Post(server.URL+"/loaders/SIG_A/adjust-timestamp", "application/json", bytes.NewReader([]byte("not json")))
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
	})
})

type plainErr struct{}

func (plainErr) Error() string { return "unclassified failure" }
