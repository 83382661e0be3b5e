package integration

import (
	"encoding/json"
	"io"
	"net/http"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/stacklok/trello-extractor/internal/api"
	"github.com/stacklok/trello-extractor/internal/artifacts"
	"github.com/stacklok/trello-extractor/internal/config"
	"github.com/stacklok/trello-extractor/internal/event"
	"github.com/stacklok/trello-extractor/internal/trello"
	"github.com/stacklok/trello-extractor/test-integration/extractor/helpers"
)

const (
	validKey = "key=integration-key&token=integration-token"
	orgID    = "org-integration"
	boardID  = "board-roadmap"
)

var _ = Describe("Extraction lifecycle", Label("extractor"), func() {
	var (
		tempDir  string
		fake     *helpers.FakeTrello
		callback *helpers.CallbackRecorder
		server   *helpers.ServerTestHelper
	)

	// send posts an event and returns the API response
	send := func(o helpers.EventOptions) api.EventResponse {
		if o.CallbackURL == "" {
			o.CallbackURL = callback.URL()
		}
		if o.ConnectionKey == "" {
			o.ConnectionKey = validKey
		}
		if o.OrgID == "" {
			o.OrgID = orgID
		}
		if o.BoardID == "" {
			o.BoardID = boardID
		}
		if o.Mode == "" {
			o.Mode = event.ModeInitial
		}

		resp, err := server.PostEvent(helpers.BuildEvent(o))
		Expect(err).NotTo(HaveOccurred())
		defer func() {
			_ = resp.Body.Close()
		}()
		body, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusOK), string(body))

		var out api.EventResponse
		Expect(json.Unmarshal(body, &out)).To(Succeed())
		return out
	}

	BeforeEach(func() {
		tempDir = createTempDir("trello-extractor-integration-")

		fake = helpers.NewFakeTrello("integration-key", "integration-token")
		fake.AddBoard(boardID, "Roadmap", 5)
		fake.AddBoard("board-empty", "Empty", 0)
		fake.AddMember(trello.Member{ID: "m1", FullName: "Ada Lovelace", Username: "ada"})
		fake.AddMember(trello.Member{ID: "m2", FullName: "Alan Turing", Username: "alan"})

		callback = helpers.NewCallbackRecorder()

		cfg := &config.Config{
			Trello: config.TrelloConfig{BaseURL: fake.URL(), PageSize: 2},
			Worker: config.WorkerConfig{Timeout: "1m", EmitTimeout: "10s"},
			Ledger: config.LedgerConfig{
				Type: config.LedgerTypeFile,
				File: &config.LedgerFileConfig{Path: filepath.Join(tempDir, "ledger")},
			},
			Artifacts: config.ArtifactsConfig{Path: filepath.Join(tempDir, "artifacts")},
		}

		server = helpers.NewServerTestHelper(ctx, cfg)
		Expect(server.StartServer()).To(Succeed())
		server.WaitForServerReady(10 * time.Second)
	})

	AfterEach(func() {
		Expect(server.StopServer()).To(Succeed())
		callback.Close()
		fake.Close()
		cleanupTempDir(tempDir)
	})

	It("discovers boards as sync units", func() {
		out := send(helpers.EventOptions{Type: event.TypeSyncUnitsStart})
		Expect(out.Success).To(BeTrue())

		last := callback.Last()
		Expect(last).NotTo(BeNil())
		Expect(last.EventType).To(Equal(event.SignalSyncUnitsDone))
		Expect(last.EventData.ExternalSyncUnits).To(HaveLen(2))
		Expect(last.EventData.ExternalSyncUnits[0].ID).To(Equal(boardID))
		Expect(last.EventData.ExternalSyncUnits[0].ItemCount).To(Equal(5))
		Expect(last.EventData.ExternalSyncUnits[1].ItemCount).To(Equal(0))
		Expect(callback.Tokens()).To(ConsistOf(helpers.ServiceAccountToken))
	})

	It("publishes the external domain metadata", func() {
		send(helpers.EventOptions{Type: event.TypeMetadataStart})

		last := callback.Last()
		Expect(last).NotTo(BeNil())
		Expect(last.EventType).To(Equal(event.SignalMetadataDone))
		Expect(last.EventData.Artifacts).To(HaveLen(1))
		Expect(last.EventData.Artifacts[0].ItemType).To(Equal(artifacts.ItemTypeExternalDomainMetadata))
	})

	It("extracts data and then attachments", func() {
		By("running the data phase")
		send(helpers.EventOptions{Type: event.TypeDataStart})

		last := callback.Last()
		Expect(last).NotTo(BeNil())
		Expect(last.EventType).To(Equal(event.SignalDataDone))
		manifest := last.EventData.Artifacts
		Expect(artifacts.Count(manifest, artifacts.ItemTypeCards)).To(Equal(5))
		Expect(artifacts.Count(manifest, artifacts.ItemTypeUsers)).To(Equal(2))
		Expect(artifacts.Count(manifest, artifacts.ItemTypeLabels)).To(Equal(1))
		Expect(artifacts.Count(manifest, artifacts.ItemTypeAttachments)).To(Equal(3))

		By("running the attachments phase")
		send(helpers.EventOptions{Type: event.TypeAttachmentsStart})

		last = callback.Last()
		Expect(last).NotTo(BeNil())
		Expect(last.EventType).To(Equal(event.SignalAttachmentsDone))

		By("continuing a finished data phase")
		send(helpers.EventOptions{Type: event.TypeDataContinue})
		Expect(callback.Last().EventType).To(Equal(event.SignalDataDone))
	})

	It("asks the platform to wait when Trello throttles", func() {
		fake.RateLimit(1)

		send(helpers.EventOptions{Type: event.TypeDataStart})

		last := callback.Last()
		Expect(last).NotTo(BeNil())
		Expect(last.EventType).To(Equal(event.SignalDataDelay))
		Expect(last.EventData.Delay).NotTo(BeNil())
		Expect(*last.EventData.Delay).To(Equal(7))

		By("resuming after the delay")
		send(helpers.EventOptions{Type: event.TypeDataContinue})
		Expect(callback.Last().EventType).To(Equal(event.SignalDataDone))
	})

	It("serves no metrics endpoint while telemetry is disabled", func() {
		resp, err := server.GetMetrics()
		Expect(err).NotTo(HaveOccurred())
		defer func() {
			_ = resp.Body.Close()
		}()
		Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
	})

	DescribeTable("reports errors for unusable credentials",
		func(key string) {
			send(helpers.EventOptions{Type: event.TypeDataStart, ConnectionKey: key})

			last := callback.Last()
			Expect(last).NotTo(BeNil())
			Expect(last.EventType).To(Equal(event.SignalDataError))
			Expect(last.EventData.Error).NotTo(BeNil())
			Expect(last.EventData.Error.Message).NotTo(BeEmpty())
		},
		Entry("malformed connection key", "not-a-connection-key"),
		Entry("token rejected by Trello", "key=integration-key&token=revoked"),
	)
})
