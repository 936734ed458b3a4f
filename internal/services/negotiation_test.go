package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"lingocrowd/core/internal/models"
	"lingocrowd/core/internal/realtime"
	"lingocrowd/core/internal/utils"
)

func TestRequestVisibilityFilter(t *testing.T) {
	anon := RequestVisibilityFilter(utils.SixID{}, nil)
	assert.Equal(t, false, anon["is_private"])
	assert.NotContains(t, anon, "$or")

	viewer := utils.NewSixID()
	banned := []utils.SixID{utils.NewSixID()}
	f := RequestVisibilityFilter(viewer, banned)
	require.Contains(t, f, "$or")
	assert.Len(t, f["$or"], 3)
	assert.Equal(t, bson.M{"$nin": banned}, f["_id"])

	assert.NotContains(t, RequestVisibilityFilter(viewer, nil), "_id")
}

func offerTerms(title string, price int64) ProjectTerms {
	return ProjectTerms{Title: title, Description: "Four short lessons", Price: price}
}

func TestNegotiation_CreateConversationIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	student := env.seedUser(t, models.RoleStudent)
	teacher := env.seedUser(t, models.RoleTeacher)
	req := env.seedRequest(t, student, CreateRequestInput{})

	conv, created, err := env.conversations.CreateConversation(ctx, teacher, req.ID)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, models.ConversationOpen, conv.Status)
	assert.Equal(t, models.RequestNegotiating, env.reloadRequest(t, req.ID).Status)

	again, created, err := env.conversations.CreateConversation(ctx, teacher, req.ID)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, conv.ID, again.ID)

	msgs, err := env.conversations.ListMessages(ctx, student, conv.ID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Hi, I'm interested in your request for 'Past tense in Spanish'. Let's discuss!", msgs[0].Content)

	// Students cannot open conversations.
	_, _, err = env.conversations.CreateConversation(ctx, student, req.ID)
	var authErr *AuthorizationError
	assert.ErrorAs(t, err, &authErr)
}

func TestNegotiation_OfferAcceptForeclosesSiblingsWithoutBlacklisting(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	student := env.seedUser(t, models.RoleStudent)
	teachers := []models.Actor{
		env.seedUser(t, models.RoleTeacher),
		env.seedUser(t, models.RoleTeacher),
		env.seedUser(t, models.RoleTeacher),
	}
	req := env.seedRequest(t, student, CreateRequestInput{Budget: 1000})

	var convs []*models.Conversation
	for _, teacher := range teachers {
		conv, _, err := env.conversations.CreateConversation(ctx, teacher, req.ID)
		require.NoError(t, err)
		convs = append(convs, conv)
	}
	offer, err := env.conversations.MakeOffer(ctx, teachers[0], convs[0].ID, offerTerms("Preterite pack", 1200))
	require.NoError(t, err)

	watcher := env.watch(t, student.UserID, realtime.ConversationChannel(convs[0].ID))

	project, err := env.conversations.AcceptOffer(ctx, student, offer.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1200), project.FundingGoal)
	assert.Equal(t, models.ProjectFunding, project.Status)
	assert.Equal(t, teachers[0].UserID, project.TeacherID)
	require.NotNil(t, project.OriginRequestID)
	assert.Equal(t, req.ID, *project.OriginRequestID)

	assert.Equal(t, models.RequestAccepted, env.reloadRequest(t, req.ID).Status)
	for _, c := range convs {
		got, err := findConversation(ctx, env.db, c.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ConversationClosed, got.Status)
	}
	assert.Zero(t, env.count(t, models.RequestBlacklistCollection, bson.M{"request_id": req.ID}))

	assert.Equal(t, []string{realtime.EventOfferAccepted, realtime.EventConversationClosed}, drain(watcher))
	assert.Equal(t, int64(1), env.countNotifications(t, teachers[0].UserID, models.NotifyOfferAccepted))

	// The offer cannot be accepted twice.
	_, err = env.conversations.AcceptOffer(ctx, student, offer.ID)
	var pre *PreconditionError
	assert.ErrorAs(t, err, &pre)
}

func TestNegotiation_RejectBlacklistsExactlyOneTeacher(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	student := env.seedUser(t, models.RoleStudent)
	teacherA := env.seedUser(t, models.RoleTeacher)
	teacherB := env.seedUser(t, models.RoleTeacher)
	req := env.seedRequest(t, student, CreateRequestInput{})

	convA, _, err := env.conversations.CreateConversation(ctx, teacherA, req.ID)
	require.NoError(t, err)
	convB, _, err := env.conversations.CreateConversation(ctx, teacherB, req.ID)
	require.NoError(t, err)
	offer, err := env.conversations.MakeOffer(ctx, teacherA, convA.ID, offerTerms("Pack", 900))
	require.NoError(t, err)

	require.NoError(t, env.conversations.RejectOffer(ctx, student, offer.ID))

	assert.Equal(t, models.RequestNegotiating, env.reloadRequest(t, req.ID).Status)
	gotA, _ := findConversation(ctx, env.db, convA.ID)
	gotB, _ := findConversation(ctx, env.db, convB.ID)
	assert.Equal(t, models.ConversationClosed, gotA.Status)
	assert.Equal(t, models.ConversationOpen, gotB.Status)

	banned, err := isBlacklisted(ctx, env.db, req.ID, teacherA.UserID)
	require.NoError(t, err)
	assert.True(t, banned)
	banned, err = isBlacklisted(ctx, env.db, req.ID, teacherB.UserID)
	require.NoError(t, err)
	assert.False(t, banned)

	// The rejected teacher no longer sees the request and cannot come back.
	_, err = env.requests.GetRequest(ctx, &teacherA, req.ID)
	var nf *NotFoundError
	assert.ErrorAs(t, err, &nf)
	_, _, err = env.conversations.CreateConversation(ctx, teacherA, req.ID)
	assert.ErrorAs(t, err, &nf)

	_, err = env.requests.GetRequest(ctx, &teacherB, req.ID)
	assert.NoError(t, err)
}

func TestNegotiation_OnlyConversationPartiesActOnOffers(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	student := env.seedUser(t, models.RoleStudent)
	teacher := env.seedUser(t, models.RoleTeacher)
	other := env.seedUser(t, models.RoleTeacher)
	req := env.seedRequest(t, student, CreateRequestInput{})
	conv, _, err := env.conversations.CreateConversation(ctx, teacher, req.ID)
	require.NoError(t, err)

	var authErr *AuthorizationError
	_, err = env.conversations.MakeOffer(ctx, student, conv.ID, offerTerms("Pack", 900))
	assert.ErrorAs(t, err, &authErr)
	_, err = env.conversations.MakeOffer(ctx, other, conv.ID, offerTerms("Pack", 900))
	assert.ErrorAs(t, err, &authErr)

	offer, err := env.conversations.MakeOffer(ctx, teacher, conv.ID, offerTerms("Pack", 900))
	require.NoError(t, err)
	_, err = env.conversations.AcceptOffer(ctx, teacher, offer.ID)
	assert.ErrorAs(t, err, &authErr)

	var valErr *ValidationError
	_, err = env.conversations.MakeOffer(ctx, teacher, conv.ID, ProjectTerms{Title: "Series", IsSeries: true, PricePerVideo: 500})
	assert.ErrorAs(t, err, &valErr)
}

func TestNegotiation_LeaveNotifiesLiveOrPersisted(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	student := env.seedUser(t, models.RoleStudent)
	teacherA := env.seedUser(t, models.RoleTeacher)
	teacherB := env.seedUser(t, models.RoleTeacher)
	req := env.seedRequest(t, student, CreateRequestInput{})

	convA, _, err := env.conversations.CreateConversation(ctx, teacherA, req.ID)
	require.NoError(t, err)
	convB, _, err := env.conversations.CreateConversation(ctx, teacherB, req.ID)
	require.NoError(t, err)

	// Student watching conversation A: live events only.
	watcher := env.watch(t, student.UserID, realtime.ConversationChannel(convA.ID))
	require.NoError(t, env.conversations.LeaveConversation(ctx, teacherA, convA.ID))
	assert.Equal(t, []string{realtime.EventMessage, realtime.EventParticipantLeft, realtime.EventConversationClosed}, drain(watcher))
	assert.Zero(t, env.countNotifications(t, student.UserID, models.NotifyConversationLeft))

	// Nobody watching conversation B: a persisted notification only.
	require.NoError(t, env.conversations.LeaveConversation(ctx, teacherB, convB.ID))
	assert.Equal(t, int64(1), env.countNotifications(t, student.UserID, models.NotifyConversationLeft))

	for _, teacher := range []models.Actor{teacherA, teacherB} {
		banned, err := isBlacklisted(ctx, env.db, req.ID, teacher.UserID)
		require.NoError(t, err)
		assert.True(t, banned)
	}
	assert.Equal(t, int64(2), env.count(t, models.MessagesCollection, bson.M{"is_system": true}))

	err = env.conversations.LeaveConversation(ctx, teacherA, convA.ID)
	var pre *PreconditionError
	assert.ErrorAs(t, err, &pre)
}

func TestNegotiation_SendMessageRules(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	student := env.seedUser(t, models.RoleStudent)
	teacher := env.seedUser(t, models.RoleTeacher)
	req := env.seedRequest(t, student, CreateRequestInput{})
	conv, _, err := env.conversations.CreateConversation(ctx, teacher, req.ID)
	require.NoError(t, err)

	hello, err := env.conversations.SendMessage(ctx, student, conv.ID, SendMessageInput{Content: "Hello!"})
	require.NoError(t, err)
	assert.Equal(t, models.MessageText, hello.Type)
	assert.Equal(t, int64(1), env.countNotifications(t, teacher.UserID, models.NotifyNewMessage))

	// A teacher watching the conversation gets the event instead of a notification.
	watcher := env.watch(t, teacher.UserID, realtime.ConversationChannel(conv.ID))
	_, err = env.conversations.SendMessage(ctx, student, conv.ID, SendMessageInput{Type: models.MessageDemoRequest, ReplyToID: hello.ID.Ptr()})
	require.NoError(t, err)
	assert.Equal(t, []string{realtime.EventMessage}, drain(watcher))
	assert.Equal(t, int64(1), env.countNotifications(t, teacher.UserID, models.NotifyNewMessage))

	var authErr *AuthorizationError
	var valErr *ValidationError
	_, err = env.conversations.SendMessage(ctx, teacher, conv.ID, SendMessageInput{Type: models.MessageDemoRequest})
	assert.ErrorAs(t, err, &authErr)
	_, err = env.conversations.SendMessage(ctx, student, conv.ID, SendMessageInput{Type: models.MessageDemoVideo, VideoURL: "https://cdn.example.com/a.mp4"})
	assert.ErrorAs(t, err, &authErr)
	_, err = env.conversations.SendMessage(ctx, teacher, conv.ID, SendMessageInput{Type: models.MessageDemoVideo})
	assert.ErrorAs(t, err, &valErr)
	_, err = env.conversations.SendMessage(ctx, teacher, conv.ID, SendMessageInput{Type: models.MessageOffer, Content: "x"})
	assert.ErrorAs(t, err, &valErr)
	_, err = env.conversations.SendMessage(ctx, teacher, conv.ID, SendMessageInput{Content: "   "})
	assert.ErrorAs(t, err, &valErr)

	demo, err := env.conversations.SendMessage(ctx, teacher, conv.ID, SendMessageInput{Type: models.MessageDemoVideo, VideoURL: "https://cdn.example.com/a.mp4"})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/a.mp4", demo.VideoURL)
}

func TestNegotiation_InboxAndReadMarks(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	student := env.seedUser(t, models.RoleStudent)
	teacher := env.seedUser(t, models.RoleTeacher)
	req := env.seedRequest(t, student, CreateRequestInput{Title: "Subjunctive"})
	conv, _, err := env.conversations.CreateConversation(ctx, teacher, req.ID)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, err = env.conversations.SendMessage(ctx, teacher, conv.ID, SendMessageInput{Content: "Any level preference?"})
	require.NoError(t, err)

	inbox, err := env.conversations.Inbox(ctx, student)
	require.NoError(t, err)
	require.Len(t, inbox.Conversations, 1)
	assert.Equal(t, "Subjunctive", inbox.Conversations[0].RequestTitle)
	assert.Equal(t, int64(2), inbox.Conversations[0].UnreadCount)
	assert.Equal(t, int64(2), inbox.TotalUnreadCount)
	require.NotNil(t, inbox.Conversations[0].LastMessage)
	assert.Equal(t, "Any level preference?", inbox.Conversations[0].LastMessage.Content)

	msgs, err := env.conversations.ListMessages(ctx, student, conv.ID, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)

	inbox, err = env.conversations.Inbox(ctx, student)
	require.NoError(t, err)
	assert.Zero(t, inbox.TotalUnreadCount)

	outsider := env.seedUser(t, models.RoleStudent)
	_, err = env.conversations.ListMessages(ctx, outsider, conv.ID, 0)
	var authErr *AuthorizationError
	assert.ErrorAs(t, err, &authErr)
}

func TestRequests_VisibilityAndCancel(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	student := env.seedUser(t, models.RoleStudent)
	targeted := env.seedUser(t, models.RoleTeacher)
	bystander := env.seedUser(t, models.RoleTeacher)

	public := env.seedRequest(t, student, CreateRequestInput{Title: "Public"})
	private := env.seedRequest(t, student, CreateRequestInput{Title: "Private", IsPrivate: true, TargetTeacherID: targeted.UserID.Ptr()})
	assert.Equal(t, int64(1), env.countNotifications(t, targeted.UserID, models.NotifyNewRequest))

	list := func(viewer *models.Actor) []utils.SixID {
		reqs, err := env.requests.ListRequests(ctx, viewer, RequestFilter{})
		require.NoError(t, err)
		var ids []utils.SixID
		for _, r := range reqs {
			ids = append(ids, r.ID)
		}
		return ids
	}
	assert.ElementsMatch(t, []utils.SixID{public.ID, private.ID}, list(&student))
	assert.ElementsMatch(t, []utils.SixID{public.ID, private.ID}, list(&targeted))
	assert.ElementsMatch(t, []utils.SixID{public.ID}, list(&bystander))
	assert.ElementsMatch(t, []utils.SixID{public.ID}, list(nil))

	conv, _, err := env.conversations.CreateConversation(ctx, targeted, private.ID)
	require.NoError(t, err)
	require.NoError(t, env.requests.CancelRequest(ctx, student, private.ID))

	assert.Equal(t, models.RequestCancelled, env.reloadRequest(t, private.ID).Status)
	got, err := findConversation(ctx, env.db, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ConversationClosed, got.Status)
	assert.Equal(t, int64(1), env.countNotifications(t, targeted.UserID, models.NotifyRequestCancelled))

	// Cancelled requests drop out of the targeted teacher's view but stay with the owner.
	assert.ElementsMatch(t, []utils.SixID{public.ID}, list(&targeted))
	assert.ElementsMatch(t, []utils.SixID{public.ID, private.ID}, list(&student))

	err = env.requests.CancelRequest(ctx, bystander, public.ID)
	var authErr *AuthorizationError
	assert.ErrorAs(t, err, &authErr)
}

func TestRequests_CancelSkipsBlacklistedTeacher(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	student := env.seedUser(t, models.RoleStudent)
	banned := env.seedUser(t, models.RoleTeacher)
	active := env.seedUser(t, models.RoleTeacher)
	req := env.seedRequest(t, student, CreateRequestInput{})

	bannedConv, _, err := env.conversations.CreateConversation(ctx, banned, req.ID)
	require.NoError(t, err)
	activeConv, _, err := env.conversations.CreateConversation(ctx, active, req.ID)
	require.NoError(t, err)
	// Blacklisted while the conversation is still OPEN.
	require.NoError(t, addToBlacklist(ctx, env.db, req.ID, banned.UserID, models.BlacklistOfferRejected))

	bannedMessages := env.count(t, models.MessagesCollection, bson.M{"conversation_id": bannedConv.ID})
	bannedConvWatch := env.watch(t, banned.UserID, realtime.ConversationChannel(bannedConv.ID))
	bannedUserWatch := env.watch(t, banned.UserID, realtime.UserChannel(banned.UserID))
	activeUserWatch := env.watch(t, active.UserID, realtime.UserChannel(active.UserID))

	require.NoError(t, env.requests.CancelRequest(ctx, student, req.ID))

	closed, err := findConversation(ctx, env.db, bannedConv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ConversationClosed, closed.Status)
	assert.Equal(t, bannedMessages, env.count(t, models.MessagesCollection, bson.M{"conversation_id": bannedConv.ID}))
	assert.Zero(t, env.countNotifications(t, banned.UserID, models.NotifyRequestCancelled))
	assert.Empty(t, drain(bannedConvWatch))
	assert.Empty(t, drain(bannedUserWatch))

	// The other teacher was not watching the conversation, so the notice is persisted
	// and the unread counter follows it on the user channel.
	assert.Equal(t, int64(1), env.countNotifications(t, active.UserID, models.NotifyRequestCancelled))
	assert.Equal(t, int64(1), env.count(t, models.MessagesCollection, bson.M{"conversation_id": activeConv.ID, "is_system": true}))
	assert.Equal(t, []string{realtime.EventUnreadCount}, drain(activeUserWatch))
}

func TestRequests_ClaimConvertsToProject(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	student := env.seedUser(t, models.RoleStudent)
	teacher := env.seedUser(t, models.RoleTeacher)
	rival := env.seedUser(t, models.RoleTeacher)
	req := env.seedRequest(t, student, CreateRequestInput{Budget: 3000})
	conv, _, err := env.conversations.CreateConversation(ctx, rival, req.ID)
	require.NoError(t, err)

	project, err := env.requests.ClaimRequest(ctx, teacher, req.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3000), project.FundingGoal)
	assert.Equal(t, models.ProjectFunding, project.Status)
	assert.Equal(t, models.RequestAccepted, env.reloadRequest(t, req.ID).Status)
	got, _ := findConversation(ctx, env.db, conv.ID)
	assert.Equal(t, models.ConversationClosed, got.Status)

	// Accepted requests are no longer visible to other teachers.
	_, err = env.requests.ClaimRequest(ctx, rival, req.ID)
	var nf *NotFoundError
	assert.ErrorAs(t, err, &nf)
}
