package channelstate

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	chaterrors "github.com/alexjbarnes/chat-sync/internal/errors"
	"github.com/alexjbarnes/chat-sync/internal/events"
	"github.com/alexjbarnes/chat-sync/internal/models"
)

const (
	testCID = "messaging:general"
	me      = "alice"
	other   = "bob"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestController(t *testing.T, online bool) (*Controller, *fakeClock) {
	t.Helper()

	clock := &fakeClock{now: t0}

	var isOnline atomic.Bool
	isOnline.Store(online)

	c, err := NewController(testCID, Options{
		CurrentUserID: me,
		Online:        isOnline.Load,
		Now:           clock.Now,
	})
	require.NoError(t, err)
	t.Cleanup(c.Close)

	return c, clock
}

func remote(id string, created time.Time) models.Message {
	return models.Message{
		ID:         id,
		CID:        testCID,
		Text:       "text " + id,
		User:       models.User{ID: other},
		CreatedAt:  created,
		SyncStatus: models.SyncCompleted,
	}
}

func ids(msgs []models.Message) []string {
	out := make([]string, len(msgs))
	for i := range msgs {
		out[i] = msgs[i].ID
	}

	return out
}

// --- construction ---

func TestNewController_InvalidCID(t *testing.T) {
	_, err := NewController("nocolon", Options{})
	require.ErrorIs(t, err, chaterrors.ErrInvalidCID)
}

func TestController_ClosedOpsAreNoops(t *testing.T) {
	c, err := NewController(testCID, Options{})
	require.NoError(t, err)
	c.Close()
	c.Close()

	assert.False(t, c.UpsertMessage(remote("m1", t0)))

	_, err = c.MessagesAround("m1", 10)
	require.ErrorIs(t, err, chaterrors.ErrControllerClosed)

	out := c.ApplyLocalMessage(models.Message{ID: "x"})
	assert.Equal(t, "x", out.ID)
}

// --- ApplyLocalMessage ---

func TestApplyLocalMessage_StatusFollowsConnectivity(t *testing.T) {
	online, _ := newTestController(t, true)
	offline, _ := newTestController(t, false)

	m := online.ApplyLocalMessage(models.Message{ID: "m1", Text: "hi", User: models.User{ID: me}})
	assert.Equal(t, models.SyncInProgress, m.SyncStatus)
	assert.Equal(t, testCID, m.CID)
	assert.True(t, t0.Equal(m.CreatedLocallyAt))

	m = offline.ApplyLocalMessage(models.Message{ID: "m1", Text: "hi", User: models.User{ID: me}})
	assert.Equal(t, models.SyncNeeded, m.SyncStatus)
}

func TestApplyLocalMessage_PendingAttachments(t *testing.T) {
	c, _ := newTestController(t, true)

	m := c.ApplyLocalMessage(models.Message{
		ID:          "m1",
		Attachments: []models.Attachment{{Type: "image", LocalPath: "/tmp/a.png"}},
	})
	assert.Equal(t, models.SyncAwaitingAttachments, m.SyncStatus)
}

func TestApplyLocalMessage_EditStampsUpdatedLocally(t *testing.T) {
	c, clock := newTestController(t, false)

	c.ApplyLocalMessage(models.Message{ID: "m1", Text: "v1"})
	clock.Advance(time.Minute)

	m := c.ApplyLocalMessage(models.Message{ID: "m1", Text: "v2"})
	assert.True(t, t0.Equal(m.CreatedLocallyAt), "creation time kept")
	assert.True(t, t0.Add(time.Minute).Equal(m.UpdatedLocallyAt))
	assert.Equal(t, "v2", m.Text)
}

func TestApplyLocalMessage_FailedMessageKeepsStatus(t *testing.T) {
	c, _ := newTestController(t, true)

	c.PutMessage(models.Message{ID: "m1", SyncStatus: models.SyncFailedPermanently})
	m := c.ApplyLocalMessage(models.Message{ID: "m1", Text: "edited"})
	assert.Equal(t, models.SyncFailedPermanently, m.SyncStatus)
}

// --- MergeRemoteMessages / UpsertMessage ---

func TestMergeRemoteMessages_Idempotent(t *testing.T) {
	c, _ := newTestController(t, true)

	page := []models.Message{remote("m1", t0), remote("m2", t0.Add(time.Second))}
	c.MergeRemoteMessages(page, ModeReplacePage)
	first := c.Snapshot()

	c.MergeRemoteMessages(page, ModeReplacePage)
	second := c.Snapshot()

	assert.Equal(t, first.Messages, second.Messages)
	assert.Equal(t, []string{"m1", "m2"}, ids(second.Messages))
}

func TestUpsertMessage_SameRevisionIsNoop(t *testing.T) {
	c, _ := newTestController(t, true)

	m := remote("m1", t0)
	m.UpdatedAt = t0.Add(time.Minute)

	assert.True(t, c.UpsertMessage(m))
	assert.False(t, c.UpsertMessage(m))

	older := m
	older.UpdatedAt = t0
	older.Text = "stale"
	assert.False(t, c.UpsertMessage(older))

	got, ok := c.Message("m1")
	require.True(t, ok)
	assert.Equal(t, "text m1", got.Text)
}

func TestUpsertMessage_ServerAckReplacesPending(t *testing.T) {
	c, _ := newTestController(t, true)

	local := c.ApplyLocalMessage(models.Message{ID: "m1", Text: "hi", User: models.User{ID: me}})
	require.Equal(t, models.SyncInProgress, local.SyncStatus)

	ack := remote("m1", t0.Add(time.Second))
	ack.User = models.User{ID: me}
	ack.Text = "hi"
	assert.True(t, c.UpsertMessage(ack))

	got, _ := c.Message("m1")
	assert.Equal(t, models.SyncCompleted, got.SyncStatus)
	assert.True(t, t0.Add(time.Second).Equal(got.SortTime()), "server time supersedes local")
	assert.True(t, t0.Equal(got.CreatedLocallyAt))
}

func TestMergeRemoteMessages_ReplacePageKeepsPending(t *testing.T) {
	c, _ := newTestController(t, false)

	c.MergeRemoteMessages([]models.Message{remote("old", t0)}, ModeReplacePage)
	c.ApplyLocalMessage(models.Message{ID: "pending", Text: "offline"})
	c.PutMessage(models.Message{ID: "failed", CreatedLocallyAt: t0, SyncStatus: models.SyncFailedPermanently})

	c.MergeRemoteMessages([]models.Message{remote("new", t0.Add(time.Hour))}, ModeReplacePage)

	snap := c.Snapshot()
	assert.ElementsMatch(t, []string{"pending", "failed", "new"}, ids(snap.Messages))
}

func TestMergeRemoteMessages_EndFlags(t *testing.T) {
	c, _ := newTestController(t, true)

	c.MergeRemoteMessages([]models.Message{remote("m1", t0)}, ModeAppendOlder)
	assert.False(t, c.Snapshot().EndOfOlder)

	c.MergeRemoteMessages(nil, ModeAppendOlder)
	assert.True(t, c.Snapshot().EndOfOlder)

	c.MergeRemoteMessages(nil, ModeAppendNewer)
	assert.True(t, c.Snapshot().EndOfNewer)
}

func TestMergeRemoteMessages_OrderedBySortTime(t *testing.T) {
	c, _ := newTestController(t, false)

	c.MergeRemoteMessages([]models.Message{remote("b", t0.Add(2 * time.Second)), remote("a", t0)}, ModeAppendNewer)
	c.ApplyLocalMessage(models.Message{ID: "local"})

	snap := c.Snapshot()
	assert.Equal(t, []string{"a", "local", "b"}, ids(snap.Messages))
	assert.True(t, t0.Add(2*time.Second).Equal(snap.Channel.LastMessageAt))
}

func TestMergeRemoteMessages_AttachmentURLPreference(t *testing.T) {
	c, _ := newTestController(t, true)

	base := remote("m1", t0)
	base.UpdatedAt = t0
	base.Attachments = []models.Attachment{{Type: "image", Name: "cat.png", ImageURL: "https://cdn.example.com/u1.png"}}
	c.MergeRemoteMessages([]models.Message{base}, ModeReplacePage)

	sameFields := base.Clone()
	sameFields.UpdatedAt = t0.Add(time.Minute)
	sameFields.Attachments[0].ImageURL = "https://cdn.example.com/u2.png"
	c.MergeRemoteMessages([]models.Message{sameFields}, ModeReplacePage)

	got, _ := c.Message("m1")
	assert.Equal(t, "https://cdn.example.com/u1.png", got.Attachments[0].ImageURL, "valid old URL kept")

	renamed := sameFields.Clone()
	renamed.UpdatedAt = t0.Add(2 * time.Minute)
	renamed.Attachments[0].Name = "dog.png"
	renamed.Attachments[0].ImageURL = "https://cdn.example.com/u3.png"
	c.MergeRemoteMessages([]models.Message{renamed}, ModeReplacePage)

	got, _ = c.Message("m1")
	assert.Equal(t, "dog.png", got.Attachments[0].Name)
	assert.Equal(t, "https://cdn.example.com/u3.png", got.Attachments[0].ImageURL, "new attachment wins wholesale")
}

// --- MarkChannelRead ---

func TestMarkChannelRead_Monotonic(t *testing.T) {
	c, _ := newTestController(t, true)

	assert.True(t, c.MarkChannelRead(me, t0.Add(time.Minute)))
	assert.False(t, c.MarkChannelRead(me, t0), "earlier mark is a no-op")
	assert.False(t, c.MarkChannelRead(me, t0.Add(time.Minute)), "same mark is a no-op")

	marks := []time.Duration{3, 1, 5, 2, 5, 8}
	last := c.Snapshot().LastMarkRead
	for _, m := range marks {
		c.MarkChannelRead(me, t0.Add(m*time.Minute))
		now := c.Snapshot().LastMarkRead
		assert.False(t, now.Before(last), "never regresses")
		last = now
	}

	assert.True(t, t0.Add(8*time.Minute).Equal(last))

	read, ok := c.Snapshot().Channel.ReadFor(me)
	require.True(t, ok)
	assert.Equal(t, 0, read.UnreadMessages)
}

func TestMarkChannelRead_OtherUserAdvancesOnly(t *testing.T) {
	c, _ := newTestController(t, true)

	assert.True(t, c.MarkChannelRead(other, t0.Add(time.Minute)))
	assert.False(t, c.MarkChannelRead(other, t0))

	read, _ := c.Snapshot().Channel.ReadFor(other)
	assert.True(t, t0.Add(time.Minute).Equal(read.LastRead))
}

// --- MessagesAround ---

func TestMessagesAround(t *testing.T) {
	c, _ := newTestController(t, true)

	var page []models.Message
	for i := 0; i < 10; i++ {
		page = append(page, remote(string(rune('a'+i)), t0.Add(time.Duration(i)*time.Second)))
	}

	c.MergeRemoteMessages(page, ModeReplacePage)

	around, err := c.MessagesAround("e", 4)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "d", "e", "f"}, ids(around))

	_, err = c.MessagesAround("zzz", 4)
	require.ErrorIs(t, err, chaterrors.ErrMessageNotFound)

	oldest, newest := c.Bounds()
	assert.Equal(t, "a", oldest)
	assert.Equal(t, "j", newest)
}

// --- attachments ---

func TestUpdateAttachment_EnforcesInvariants(t *testing.T) {
	c, _ := newTestController(t, true)

	c.ApplyLocalMessage(models.Message{
		ID:          "m1",
		Attachments: []models.Attachment{{Type: "file", LocalPath: "/tmp/a.pdf"}},
	})

	att := models.Attachment{Type: "file", LocalPath: "/tmp/a.pdf", UploadState: models.InProgress(10, 100)}
	assert.True(t, c.UpdateAttachment("m1", 0, att))

	noURL := att
	noURL.UploadState = models.Success()
	assert.False(t, c.UpdateAttachment("m1", 0, noURL), "success requires a URL")

	done := noURL
	done.AssetURL = "https://cdn.example.com/a.pdf"
	assert.True(t, c.UpdateAttachment("m1", 0, done))

	back := done
	back.UploadState = models.InProgress(1, 100)
	assert.False(t, c.UpdateAttachment("m1", 0, back), "success never returns to in progress")

	assert.False(t, c.UpdateAttachment("m1", 5, done))
	assert.False(t, c.UpdateAttachment("missing", 0, done))

	got, _ := c.Message("m1")
	assert.Equal(t, models.UploadSuccess, got.Attachments[0].UploadState.Kind)
}

func TestSetMessageSyncStatus(t *testing.T) {
	c, _ := newTestController(t, true)

	c.ApplyLocalMessage(models.Message{ID: "m1"})
	assert.True(t, c.SetMessageSyncStatus("m1", models.SyncCompleted))
	assert.False(t, c.SetMessageSyncStatus("nope", models.SyncCompleted))

	got, _ := c.Message("m1")
	assert.Equal(t, models.SyncCompleted, got.SyncStatus)

	assert.True(t, c.RemoveMessage("m1"))
	assert.False(t, c.RemoveMessage("m1"))
}

// --- truncate / hide ---

func TestTruncate(t *testing.T) {
	c, _ := newTestController(t, true)

	c.MergeRemoteMessages([]models.Message{
		remote("m1", t0),
		remote("m2", t0.Add(time.Minute)),
		remote("m3", t0.Add(2*time.Minute)),
	}, ModeReplacePage)

	sys := remote("sys", t0.Add(3*time.Minute))
	sys.Type = models.MessageTypeSystem

	removed := c.Truncate(t0.Add(time.Minute), &sys)
	assert.Equal(t, 2, removed)
	assert.Equal(t, []string{"m3", "sys"}, ids(c.Snapshot().Messages))
}

func TestHideShow(t *testing.T) {
	c, _ := newTestController(t, true)
	c.MergeRemoteMessages([]models.Message{remote("m1", t0)}, ModeReplacePage)

	c.Hide(time.Time{})
	snap := c.Snapshot()
	assert.True(t, snap.Channel.Hidden)
	assert.Len(t, snap.Messages, 1)

	c.Hide(t0)
	assert.Empty(t, c.Snapshot().Messages, "clear history removes messages")

	c.Show()
	assert.False(t, c.Snapshot().Channel.Hidden)
}

// --- SetChannel ---

func TestSetChannel_KeepsIdentityAndMembership(t *testing.T) {
	c, _ := newTestController(t, true)

	c.SetChannel(models.Channel{
		CID:     testCID,
		Name:    "General",
		Members: []models.Member{{User: models.User{ID: me}}},
	})
	c.SetChannel(models.Channel{CID: "messaging:other", Name: "Renamed"})

	snap := c.Snapshot()
	assert.Equal(t, testCID, snap.Channel.CID)
	assert.Equal(t, "Renamed", snap.Channel.Name)
	assert.Len(t, snap.Channel.Members, 1, "members kept when the update has none")
}

func TestSnapshot_IsDeepCopy(t *testing.T) {
	c, _ := newTestController(t, true)
	c.MergeRemoteMessages([]models.Message{remote("m1", t0)}, ModeReplacePage)

	snap := c.Snapshot()
	snap.Messages[0].Text = "mutated"

	got, _ := c.Message("m1")
	assert.Equal(t, "text m1", got.Text)
}

// --- serial queue ---

func TestController_ConcurrentMutationsSerialize(t *testing.T) {
	c, _ := newTestController(t, true)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.UpsertMessage(remote(string(rune('A'+i)), t0.Add(time.Duration(i)*time.Second)))
			c.HandleEvent(events.TypingStart{Header: events.Header{CreatedAt: t0}, User: models.User{ID: other}})
		}(i)
	}
	wg.Wait()

	assert.Len(t, c.Snapshot().Messages, 50)
}
