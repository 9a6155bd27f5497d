package receipt

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/receipt-lens/internal/ocr"
	"github.com/zombor/receipt-lens/internal/preprocess"
)

var _ = Describe("Integration", func() {
	var (
		tempDir   string
		db        *BoltDB
		store     *LocalStorage
		tessdata  *ghttp.Server
		installer *ModelInstaller
		general   *fakeBackend
		factory   *fakeEngineFactory
		pipeline  *Pipeline
		server    *Server
		ghServer  *ghttp.Server
		err       error
	)

	BeforeEach(func() {
		tempDir, err = os.MkdirTemp("", "receipt-lens-test-*")
		Expect(err).NotTo(HaveOccurred())

		db, err = NewBoltDB(filepath.Join(tempDir, "test.db"))
		Expect(err).NotTo(HaveOccurred())

		store, err = NewLocalStorage(filepath.Join(tempDir, "tessdata"))
		Expect(err).NotTo(HaveOccurred())

		tessdata = ghttp.NewServer()
		tessdata.RouteToHandler(http.MethodGet, "/eng.traineddata", ghttp.RespondWith(http.StatusOK, "eng-model"))
		tessdata.RouteToHandler(http.MethodGet, "/jpn.traineddata", ghttp.RespondWith(http.StatusOK, "jpn-model"))

		installer = NewModelInstaller(tessdata.URL(), store, db)
		general = newFakeBackend("tesseract", ocrResult(firstPhotoText, 90), ocrResult(secondPhotoText, 95))
		factory = &fakeEngineFactory{general: general}

		pipeline, err = NewPipeline(Config{
			Engines:    factory,
			Models:     installer,
			DB:         db,
			Preprocess: preprocess.Options{MinShortSide: 32, MaxShortSide: 64},
			EngineMode: ocr.ModeTesseract,
		})
		Expect(err).NotTo(HaveOccurred())

		server = NewServer(pipeline, BasicAuth{})
		ghServer = ghttp.NewServer()
	})

	AfterEach(func() {
		if ghServer != nil {
			ghServer.Close()
		}
		if pipeline != nil {
			pipeline.Close()
		}
		if tessdata != nil {
			tessdata.Close()
		}
		if db != nil {
			db.Close()
		}
		if tempDir != "" {
			os.RemoveAll(tempDir)
		}
	})

	It("downloads models, initializes and scans a two-photo receipt", func() {
		ghServer.AppendHandlers(server.ServeHTTP, server.ServeHTTP, server.ServeHTTP)

		// --- Step 1: Initialize ---
		resp, err := http.Post(ghServer.URL()+"/api/initialize", "application/json", bytes.NewBufferString(`{"scripts":["japanese"]}`))
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		resp.Body.Close()

		Expect(store.Exists("eng.traineddata")).To(BeTrue())
		Expect(store.Exists("jpn.traineddata")).To(BeTrue())
		Expect(factory.dir).To(Equal(store.Dir()))

		models, err := db.ListModels()
		Expect(err).NotTo(HaveOccurred())
		Expect(models).To(HaveLen(2))

		// --- Step 2: Scan ---
		body, ct := multipartBody(
			upload{"top.png", "image/png", pngImage(40, 60)},
			upload{"bottom.png", "image/png", pngImage(40, 60)},
		)
		resp, err = http.Post(ghServer.URL()+"/api/scan", ct, body)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		Expect(err).NotTo(HaveOccurred())

		var result ProcessingResult
		Expect(json.Unmarshal(respBody, &result)).To(Succeed())
		Expect(result.ID).NotTo(BeEmpty())
		Expect(result.Engine).To(Equal("tesseract"))
		Expect(result.Transactions).To(HaveLen(3))
		Expect(result.Transactions[0].Date).To(Equal("2024-01-15"))

		// --- Step 3: Status ---
		resp, err = http.Get(ghServer.URL() + "/api/status")
		Expect(err).NotTo(HaveOccurred())

		var status statusResponse
		Expect(json.NewDecoder(resp.Body).Decode(&status)).To(Succeed())
		resp.Body.Close()
		Expect(status.State.Status).To(Equal("Done"))
		Expect(status.CanProcessOffline).To(BeTrue())
		Expect(status.Preferences.Scripts).To(Equal([]ocr.ScriptHint{ocr.ScriptJapanese}))
	})

	It("restores preferences and installed models after a restart", func() {
		Expect(pipeline.Initialize(context.Background(), []ocr.ScriptHint{ocr.ScriptJapanese})).To(Succeed())
		Expect(pipeline.SetProcessingMode(ModeEnhanced)).To(Succeed())
		Expect(tessdata.ReceivedRequests()).To(HaveLen(2))
		pipeline.Close()

		restarted, err := NewPipeline(Config{
			Engines: factory,
			Models:  installer,
			DB:      db,
		})
		Expect(err).NotTo(HaveOccurred())
		defer restarted.Close()

		Expect(restarted.Preferences().ProcessingMode).To(Equal(ModeEnhanced))
		Expect(restarted.Preferences().EngineMode).To(Equal(ocr.ModeTesseract))
		Expect(restarted.CanProcessOffline()).To(BeTrue())

		Expect(restarted.Initialize(context.Background(), restarted.Preferences().Scripts)).To(Succeed())
		Expect(tessdata.ReceivedRequests()).To(HaveLen(2))
	})
})
