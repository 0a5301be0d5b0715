package server_test

import (
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/coderelay/coderelay/citest/testutil"
	"github.com/coderelay/coderelay/pkg/types"
)

func createSession(repoRef string) *types.Session {
	GinkgoHelper()

	resp, err := client.Post(ctx, "/session", map[string]string{"repoRef": repoRef})
	Expect(err).NotTo(HaveOccurred())
	Expect(resp.IsSuccess()).To(BeTrue(), resp.String())

	var sess types.Session
	Expect(resp.JSON(&sess)).To(Succeed())
	Expect(sess.ID).NotTo(BeEmpty())
	return &sess
}

var _ = Describe("Session API", func() {
	var repoDir string
	var session *types.Session

	BeforeEach(func() {
		repoDir = GinkgoT().TempDir()
		session = createSession(repoDir)
	})

	AfterEach(func() {
		client.Delete(ctx, "/session/"+session.ID)
	})

	Describe("lifecycle", func() {
		It("creates sessions idle with no pending question", func() {
			Expect(session.Status).To(Equal(types.StatusIdle))
			Expect(session.Pending).To(BeNil())
			Expect(session.RepoRef).To(Equal(repoDir))
		})

		It("lists and retrieves sessions", func() {
			resp, err := client.Get(ctx, "/session")
			Expect(err).NotTo(HaveOccurred())

			var sessions []*types.Session
			Expect(resp.JSON(&sessions)).To(Succeed())
			Expect(sessions).NotTo(BeEmpty())

			resp, err = client.Get(ctx, "/session/"+session.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.IsSuccess()).To(BeTrue())
		})

		It("returns 404 for unknown sessions", func() {
			resp, err := client.Get(ctx, "/session/non-existent-id")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(404))
			Expect(resp.ErrorCode()).To(Equal("NOT_FOUND"))
		})

		It("evicts deleted sessions", func() {
			resp, err := client.Delete(ctx, "/session/"+session.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.IsSuccess()).To(BeTrue())

			resp, err = client.Get(ctx, "/session/"+session.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(404))
		})

		It("rejects creation without a repoRef", func() {
			resp, err := client.Post(ctx, "/session", map[string]string{})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(400))
			Expect(resp.ErrorCode()).To(Equal("INVALID_REQUEST"))
		})
	})

	Describe("command round trip", func() {
		It("accepts a command and records both sides of the exchange", func() {
			testServer.Provider.Enqueue("Renamed the function across 3 files.")

			resp, err := client.Post(ctx, "/session/"+session.ID+"/command",
				map[string]string{"command": "rename parseArgs to parseFlags"})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(202))

			var ack types.ConversationMessage
			Expect(resp.JSON(&ack)).To(Succeed())
			Expect(ack.Role).To(Equal(types.RoleUser))

			_, err = testServer.WaitForStatus(session.ID, types.StatusIdle, 5*time.Second)
			Expect(err).NotTo(HaveOccurred())

			resp, err = client.Get(ctx, "/session/"+session.ID+"/message")
			Expect(err).NotTo(HaveOccurred())

			var msgs []*types.ConversationMessage
			Expect(resp.JSON(&msgs)).To(Succeed())
			Expect(msgs).To(HaveLen(2))
			Expect(msgs[1].Role).To(Equal(types.RoleAssistant))
			Expect(msgs[1].Content).To(Equal("Renamed the function across 3 files."))
		})

		It("rejects a second command while processing", func() {
			_, err := testServer.Store.BeginCommand(session.ID, "in flight")
			Expect(err).NotTo(HaveOccurred())

			resp, err := client.Post(ctx, "/session/"+session.ID+"/command",
				map[string]string{"command": "another"})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(409))
			Expect(resp.ErrorCode()).To(Equal("ALREADY_BUSY"))
		})

		It("rejects blank commands", func() {
			resp, err := client.Post(ctx, "/session/"+session.ID+"/command",
				map[string]string{"command": "   "})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(400))
		})
	})

	Describe("question round trip", func() {
		It("pauses on a detected question and resumes on the answer", func() {
			testServer.Provider.Enqueue(
				"Which framework would you like to use?\n1. React\n2. Vue\n3. Svelte",
				"Scaffolded the Svelte app.",
			)

			resp, err := client.Post(ctx, "/session/"+session.ID+"/command",
				map[string]string{"command": "scaffold a frontend"})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(202))

			snap, err := testServer.WaitForStatus(session.ID, types.StatusWaitingForInput, 5*time.Second)
			Expect(err).NotTo(HaveOccurred())
			Expect(snap.Pending).NotTo(BeNil())
			Expect(snap.Pending.Type).To(Equal(types.QuestionMultipleChoice))
			Expect(snap.Pending.Choices).To(Equal([]string{"React", "Vue", "Svelte"}))

			By("rejecting commands while the question is open")
			resp, err = client.Post(ctx, "/session/"+session.ID+"/command",
				map[string]string{"command": "also add tests"})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(409))
			Expect(resp.ErrorCode()).To(Equal("QUESTION_PENDING"))

			By("rejecting a stale question id")
			resp, err = client.Post(ctx,
				fmt.Sprintf("/session/%s/question/%s", session.ID, "stale"),
				map[string]string{"answer": "3"})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(404))

			By("accepting the real answer and resuming")
			resp, err = client.Post(ctx,
				fmt.Sprintf("/session/%s/question/%s", session.ID, snap.Pending.ID),
				map[string]string{"answer": "3"})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(202))

			var ack types.ConversationMessage
			Expect(resp.JSON(&ack)).To(Succeed())
			Expect(ack.Content).To(Equal("Svelte"))

			final, err := testServer.WaitForStatus(session.ID, types.StatusIdle, 5*time.Second)
			Expect(err).NotTo(HaveOccurred())
			Expect(final.Pending).To(BeNil())
		})
	})

	Describe("GET /health", func() {
		It("reports status and active session count", func() {
			resp, err := client.Get(ctx, "/health")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.IsSuccess()).To(BeTrue())

			var health struct {
				Status             string `json:"status"`
				ActiveSessionCount int    `json:"activeSessionCount"`
			}
			Expect(resp.JSON(&health)).To(Succeed())
			Expect(health.Status).To(Equal("ok"))
			Expect(health.ActiveSessionCount).To(BeNumerically(">=", 1))
		})
	})
})

var _ = Describe("Authenticated server", func() {
	var authServer *testutil.TestServer
	var authClient *testutil.TestClient

	BeforeEach(func() {
		var err error
		authServer, err = testutil.StartTestServer(testutil.WithAuthToken("ci-secret"))
		Expect(err).NotTo(HaveOccurred())
		authClient = authServer.Client()
	})

	AfterEach(func() {
		authServer.Stop()
	})

	It("rejects requests without the bearer token", func() {
		resp, err := authClient.Get(ctx, "/session")
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(401))
		Expect(resp.ErrorCode()).To(Equal("UNAUTHORIZED"))
	})

	It("accepts requests with the bearer token", func() {
		resp, err := authClient.Get(ctx, "/session", testutil.WithBearerToken("ci-secret"))
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.IsSuccess()).To(BeTrue())
	})

	It("leaves health open for probes", func() {
		resp, err := authClient.Get(ctx, "/health")
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.IsSuccess()).To(BeTrue())
	})
})
