package server_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/lm-plugin/worker/internal/channel"
	"github.com/lm-plugin/worker/internal/storage"
	"github.com/lm-plugin/worker/pkg/types"
)

// foreground is a websocket client collecting the worker's notifications.
type foreground struct {
	client *channel.Channel
	done   chan struct{}
	last   types.SessionState
	errors []string
	closed bool
}

func connect(w *worker) *foreground {
	f := &foreground{
		client: channel.New(&channel.WebSocketDialer{URL: w.portURL()}),
		done:   make(chan struct{}),
	}
	go func() {
		defer close(f.done)
		f.client.Run(ctx)
	}()
	return f
}

func (f *foreground) stop() {
	f.client.Close()
	<-f.done
}

// drain consumes every notification received so far.
func (f *foreground) drain() {
	for {
		select {
		case n := <-f.client.Notifications():
			switch n.Type {
			case types.NotificationState:
				if s, err := n.State(); err == nil {
					f.last = s
				}
			case types.NotificationError:
				f.errors = append(f.errors, n.Message())
			case types.NotificationComplete:
				f.closed = true
			}
		default:
			return
		}
	}
}

func (f *foreground) state() types.SessionState {
	f.drain()
	return f.last
}

func (f *foreground) errorMessages() []string {
	f.drain()
	return f.errors
}

func settledChat(s types.SessionState) []types.ChatMessage {
	if s.Lifecycle != types.LifecycleReady {
		return nil
	}
	for _, m := range s.ChatMessages {
		if m.Status != types.ChatFinishedAndRendered {
			return nil
		}
	}
	return s.ChatMessages
}

var _ = Describe("Worker", func() {
	var (
		w  *worker
		fg *foreground
	)

	BeforeEach(func() {
		mockLLM.Reset()
		w = startWorker(storage.NewMemoryStore(storage.DefaultMaxEntrySize))
		fg = connect(w)
	})

	AfterEach(func() {
		fg.stop()
		w.stop()
	})

	Describe("summariseContent", func() {
		It("streams the reply and renders it as HTML", func() {
			mockLLM.Reply("Hello **world**")
			fg.client.Submit(types.SummariseContent("A short article.", types.PromptSummarise))

			Eventually(func() []types.ChatMessage {
				return settledChat(fg.state())
			}, 5*time.Second, 10*time.Millisecond).Should(HaveLen(1))

			s := fg.state()
			Expect(s.ChatMessages[0].Content).To(Equal("<p>Hello <strong>world</strong></p>\n"))
			Expect(s.ChatMessages[0].Kind).To(Equal(types.ChatPrimary))
			Expect(s.APIMessages).To(HaveLen(3))
			Expect(s.APIMessages[2].Content).To(Equal("Hello **world**"))

			reqs := mockLLM.Requests()
			Expect(reqs).To(HaveLen(1))
			Expect(reqs[0].Stream).To(BeTrue())
			Expect(reqs[0].Authorization).To(Equal("Bearer e2e-token"))
			Expect(reqs[0].Messages).To(HaveLen(2))
			Expect(reqs[0].Messages[0].Role).To(Equal("system"))
			Expect(reqs[0].Messages[0].Content).To(ContainSubstring("English"))
			Expect(reqs[0].Messages[1].Content).To(HaveSuffix("A short article."))
		})

		It("continues the exchange with askQuestion", func() {
			mockLLM.Reply("First answer.")
			fg.client.Submit(types.SummariseContent("Some text.", ""))
			Eventually(func() []types.ChatMessage {
				return settledChat(fg.state())
			}, 5*time.Second, 10*time.Millisecond).Should(HaveLen(1))

			mockLLM.Reply("Second answer.")
			fg.client.Submit(types.AskQuestion("And then?"))
			Eventually(func() []types.ChatMessage {
				return settledChat(fg.state())
			}, 5*time.Second, 10*time.Millisecond).Should(HaveLen(3))

			chat := fg.state().ChatMessages
			Expect(chat[1].Role).To(Equal(types.RoleUser))
			Expect(chat[1].Content).To(Equal("And then?"))
			Expect(chat[2].Kind).To(Equal(types.ChatFollowUp))
			Expect(chat[2].Content).To(ContainSubstring("Second answer."))

			reqs := mockLLM.Requests()
			Expect(reqs).To(HaveLen(2))
			Expect(reqs[1].Messages).To(HaveLen(4))
			Expect(reqs[1].Messages[2].Content).To(Equal("First answer."))
		})

		It("reports backend failures and rolls back", func() {
			mockLLM.FailNext(http.StatusInternalServerError)
			fg.client.Submit(types.SummariseContent("Some text.", ""))

			Eventually(fg.errorMessages, 5*time.Second, 10*time.Millisecond).
				Should(ContainElement("API Error 500: Internal Server Error"))
			Eventually(func() bool {
				s := fg.state()
				return s.Lifecycle == types.LifecycleReady && len(s.ChatMessages) == 0 && len(s.APIMessages) == 1
			}, 5*time.Second, 10*time.Millisecond).Should(BeTrue())
		})
	})

	Describe("summariseTab", func() {
		It("extracts the main content of the page", func() {
			fg.client.Submit(types.SummariseTab(page.URL, types.PromptExplain))

			Eventually(func() []types.ChatMessage {
				return settledChat(fg.state())
			}, 5*time.Second, 10*time.Millisecond).Should(HaveLen(1))

			reqs := mockLLM.Requests()
			Expect(reqs).To(HaveLen(1))
			user := reqs[0].Messages[1].Content
			Expect(user).To(ContainSubstring("Tide pools form where the ocean meets rock."))
			Expect(user).NotTo(ContainSubstring("Home | About"))
			Expect(user).NotTo(ContainSubstring("Copyright"))
		})

		It("reports documents it cannot read", func() {
			fg.client.Submit(types.SummariseTab("file:///does/not/exist.html", ""))

			Eventually(fg.errorMessages, 5*time.Second, 10*time.Millisecond).ShouldNot(BeEmpty())
			Expect(mockLLM.Requests()).To(BeEmpty())
		})
	})

	Describe("HTTP surface", func() {
		It("accepts commands over POST /command and serves GET /state", func() {
			mockLLM.Reply("Posted.")
			body, err := json.Marshal(types.SummariseContent("Via HTTP.", ""))
			Expect(err).NotTo(HaveOccurred())

			resp, err := http.Post(w.http.URL+"/command", "application/json", bytes.NewReader(body))
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusAccepted))

			Eventually(func() []types.ChatMessage {
				resp, err := http.Get(w.http.URL + "/state")
				if err != nil {
					return nil
				}
				defer resp.Body.Close()
				var s types.SessionState
				if json.NewDecoder(resp.Body).Decode(&s) != nil {
					return nil
				}
				return settledChat(s)
			}, 5*time.Second, 10*time.Millisecond).Should(HaveLen(1))
		})

		It("clears the chat", func() {
			mockLLM.Reply("To be cleared.")
			fg.client.Submit(types.SummariseContent("Some text.", ""))
			Eventually(func() []types.ChatMessage {
				return settledChat(fg.state())
			}, 5*time.Second, 10*time.Millisecond).Should(HaveLen(1))

			fg.client.Submit(types.ClearChat())
			Eventually(func() []types.ChatMessage {
				return fg.state().ChatMessages
			}, 5*time.Second, 10*time.Millisecond).Should(BeEmpty())
			Expect(fg.state().APIMessages).To(BeEmpty())
		})
	})

	Describe("persistence", func() {
		It("restores the session in a new worker", func() {
			mockLLM.Reply("Remember me.")
			fg.client.Submit(types.SummariseContent("Some text.", ""))
			Eventually(func() []types.ChatMessage {
				return settledChat(fg.state())
			}, 5*time.Second, 10*time.Millisecond).Should(HaveLen(1))

			fg.stop()
			w.stop()

			w = startWorker(w.store)
			fg = connect(w)
			fg.client.Submit(types.GetState())

			Eventually(func() []types.ChatMessage {
				return settledChat(fg.state())
			}, 5*time.Second, 10*time.Millisecond).Should(HaveLen(1))
			Expect(strings.TrimSpace(fg.state().ChatMessages[0].Content)).To(Equal("<p>Remember me.</p>"))
		})
	})

	It("sends complete when the worker shuts down", func() {
		fg.client.Submit(types.GetState())
		Eventually(func() types.Lifecycle {
			return fg.state().Lifecycle
		}, 5*time.Second, 10*time.Millisecond).Should(Equal(types.LifecycleReady))

		Expect(w.endpoint.Close()).To(Succeed())
		Eventually(func() bool {
			fg.drain()
			return fg.closed
		}, 5*time.Second, 10*time.Millisecond).Should(BeTrue())
	})
})
