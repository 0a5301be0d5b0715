package server_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/coderelay/coderelay/citest/testutil"
	"github.com/coderelay/coderelay/pkg/types"
)

var _ = Describe("Event streaming", func() {
	var session *types.Session
	var sse *testutil.SSEClient

	BeforeEach(func() {
		session = createSession(GinkgoT().TempDir())
		sse = testServer.SSEClient()
	})

	AfterEach(func() {
		sse.Close()
		client.Delete(ctx, "/session/"+session.ID)
	})

	Describe("GET /event", func() {
		It("greets the observer before any session event", func() {
			Expect(sse.Connect(ctx, "/event?sessionID="+session.ID)).To(Succeed())

			evt, err := sse.WaitForEvent("server.connected", 2*time.Second)
			Expect(err).NotTo(HaveOccurred())
			Expect(evt).NotTo(BeNil())
		})

		It("streams a command's events in production order", func() {
			Expect(sse.Connect(ctx, "/event?sessionID="+session.ID)).To(Succeed())
			_, err := sse.WaitForEvent("server.connected", 2*time.Second)
			Expect(err).NotTo(HaveOccurred())

			testServer.Provider.Enqueue("Done, nothing else to do.")
			resp, err := client.Post(ctx, "/session/"+session.ID+"/command",
				map[string]string{"command": "tidy up"})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(202))

			var kinds []string
			deadline := time.Now().Add(5 * time.Second)
			for len(kinds) < 5 && time.Now().Before(deadline) {
				for _, e := range sse.CollectEvents(200 * time.Millisecond) {
					if e.Type != "heartbeat" {
						kinds = append(kinds, e.Type)
					}
				}
			}
			Expect(kinds).To(Equal([]string{
				"session.status",
				"message.created",
				"message.created",
				"session.status",
				"task.completed",
			}))
		})

		It("never leaks another session's events", func() {
			Expect(sse.Connect(ctx, "/event?sessionID="+session.ID)).To(Succeed())
			_, err := sse.WaitForEvent("server.connected", 2*time.Second)
			Expect(err).NotTo(HaveOccurred())

			other := createSession(GinkgoT().TempDir())
			defer client.Delete(ctx, "/session/"+other.ID)

			testServer.Provider.Enqueue("Other session reply.")
			resp, err := client.Post(ctx, "/session/"+other.ID+"/command",
				map[string]string{"command": "work elsewhere"})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(202))

			_, err = testServer.WaitForStatus(other.ID, types.StatusIdle, 5*time.Second)
			Expect(err).NotTo(HaveOccurred())

			collected := sse.CollectEvents(300 * time.Millisecond)
			for _, e := range collected {
				Expect(e.Type).To(Equal("heartbeat"))
			}
		})

		It("requires a sessionID", func() {
			resp, err := client.Get(ctx, "/event")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(400))
		})
	})

	Describe("GET /global/event", func() {
		It("sees lifecycle events for every session", func() {
			Expect(sse.Connect(ctx, "/global/event")).To(Succeed())
			_, err := sse.WaitForEvent("server.connected", 2*time.Second)
			Expect(err).NotTo(HaveOccurred())

			created := createSession(GinkgoT().TempDir())

			_, err = sse.WaitForEvent("session.created", 2*time.Second)
			Expect(err).NotTo(HaveOccurred())

			resp, err := client.Delete(ctx, "/session/"+created.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.IsSuccess()).To(BeTrue())

			_, err = sse.WaitForEvent("session.deleted", 2*time.Second)
			Expect(err).NotTo(HaveOccurred())
		})
	})
})
