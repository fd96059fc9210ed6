package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"telegrative/internal/openaiutil"
	"telegrative/internal/rag"
	"telegrative/internal/session"
)

const testUser int64 = 1001

type fakeAPI struct {
	mu           sync.Mutex
	sent         []tgbotapi.Chattable
	requests     []tgbotapi.Chattable
	baseURL      string
	failMarkdown bool
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := c.(tgbotapi.MessageConfig); ok && f.failMarkdown && m.ParseMode == markdownMode {
		return tgbotapi.Message{}, errors.New("Bad Request: can't parse entities")
	}
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, nil
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) GetFileDirectURL(fileID string) (string, error) {
	return f.baseURL + "/file/" + fileID, nil
}

func (f *fakeAPI) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.sent {
		if m, ok := c.(tgbotapi.MessageConfig); ok {
			out = append(out, m.Text)
		}
	}
	return out
}

func (f *fakeAPI) count(match func(tgbotapi.Chattable) bool) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.sent {
		if match(c) {
			n++
		}
	}
	return n
}

func isAnimation(c tgbotapi.Chattable) bool {
	_, ok := c.(tgbotapi.AnimationConfig)
	return ok
}

type fakeModel struct {
	chatPrompts  []string
	imagePrompt  string
	imageSize    string
	audioPath    string
	audioExisted bool
	chatErr      error
	transErr     error
	panicOnChat  bool
}

func (m *fakeModel) Chat(_ context.Context, prompt string) (string, error) {
	if m.panicOnChat {
		panic("boom")
	}
	m.chatPrompts = append(m.chatPrompts, prompt)
	return "model answer", m.chatErr
}

func (m *fakeModel) Transcribe(_ context.Context, path string) (string, error) {
	m.audioPath = path
	_, err := os.Stat(path)
	m.audioExisted = err == nil
	if m.transErr != nil {
		return "", m.transErr
	}
	return "what time is it", nil
}

func (m *fakeModel) GenerateImage(_ context.Context, prompt, size string) (string, string, error) {
	m.imagePrompt = prompt
	m.imageSize = size
	return "https://images.example/apple.png", "A shiny red apple", nil
}

type fakeDocs struct {
	path        string
	fileContent string
	text        string
	question    string
	err         error
}

func (d *fakeDocs) AnswerFromFile(_ context.Context, path, question string) (string, error) {
	d.path, d.question = path, question
	data, _ := os.ReadFile(path)
	d.fileContent = string(data)
	return "pdf answer", d.err
}

func (d *fakeDocs) AnswerFromText(_ context.Context, content, question string) (string, error) {
	d.text, d.question = content, question
	return "text answer", d.err
}

type fakeValidator struct {
	keys []string
	sess *session.Session
	err  error
}

func (v *fakeValidator) ValidateAndCreate(_ context.Context, key string) (*session.Session, error) {
	v.keys = append(v.keys, key)
	if v.err != nil {
		return nil, v.err
	}
	s := *v.sess
	s.APIKey = key
	return &s, nil
}

type harness struct {
	api   *fakeAPI
	store *session.Store
	keys  *fakeValidator
	model *fakeModel
	docs  *fakeDocs
	bot   *Bot
	tmp   string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	files := map[string]string{
		"voice-1": "OggS fake audio",
		"pdf-1":   "%PDF-1.4 fake",
		"txt-1":   "plain text document",
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := files[strings.TrimPrefix(r.URL.Path, "/file/")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)

	h := &harness{
		api:   &fakeAPI{baseURL: srv.URL},
		store: session.NewStore(),
		model: &fakeModel{},
		docs:  &fakeDocs{},
		tmp:   t.TempDir(),
	}
	h.keys = &fakeValidator{sess: &session.Session{Model: h.model, Docs: h.docs}}
	h.bot = New(h.api, h.keys, h.store, Options{
		ImageSize:  "1024x1024",
		HTTPClient: srv.Client(),
		TempDir:    h.tmp,
	})
	return h
}

func (h *harness) activate() {
	h.store.Activate(testUser, &session.Session{APIKey: "sk-test000", Model: h.model, Docs: h.docs})
}

func (h *harness) state() session.State {
	st, _ := h.store.Get(testUser)
	return st
}

func (h *harness) handle(u tgbotapi.Update) {
	h.bot.HandleUpdate(context.Background(), u)
}

func message(id int, text string) *tgbotapi.Message {
	return &tgbotapi.Message{
		MessageID: id,
		From:      &tgbotapi.User{ID: testUser, FirstName: "Ann", LastName: "Lee"},
		Chat:      &tgbotapi.Chat{ID: testUser},
		Text:      text,
	}
}

func textUpdate(id int, text string) tgbotapi.Update {
	return tgbotapi.Update{Message: message(id, text)}
}

func commandUpdate(cmd string) tgbotapi.Update {
	m := message(1, "/"+cmd)
	m.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd) + 1}}
	return tgbotapi.Update{Message: m}
}

func callbackUpdate(data string) tgbotapi.Update {
	return tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb-1",
		From:    &tgbotapi.User{ID: testUser, FirstName: "Ann"},
		Message: &tgbotapi.Message{MessageID: 5, Chat: &tgbotapi.Chat{ID: testUser}},
		Data:    data,
	}}
}

func documentUpdate(fileID, mimeType, caption string) tgbotapi.Update {
	m := message(9, "")
	m.Document = &tgbotapi.Document{FileID: fileID, MimeType: mimeType, FileName: "file"}
	m.Caption = caption
	return tgbotapi.Update{Message: m}
}

func voiceUpdate(fileID string) tgbotapi.Update {
	m := message(10, "")
	m.Voice = &tgbotapi.Voice{FileID: fileID, Duration: 3}
	return tgbotapi.Update{Message: m}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func assertTempEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read temp dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("temporary files left behind: %d", len(entries))
	}
}

func TestStartWithoutSession(t *testing.T) {
	h := newHarness(t)
	h.handle(commandUpdate("start"))

	texts := h.api.texts()
	if len(texts) != 3 {
		t.Fatalf("texts=%q want greeting, skills, question", texts)
	}
	if !strings.HasPrefix(texts[0], "Hello Ann Lee, I'm TelegrativeAI") {
		t.Errorf("greeting=%q", texts[0])
	}
	if !strings.HasPrefix(texts[1], "Here are the skills I can offer you") {
		t.Errorf("skills=%q", texts[1])
	}
	if texts[2] != continueQuestion {
		t.Errorf("question=%q", texts[2])
	}
	if n := h.api.count(isAnimation); n != 1 {
		t.Errorf("animations=%d want 1", n)
	}
	q := h.api.sent[len(h.api.sent)-1].(tgbotapi.MessageConfig)
	kb, ok := q.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	if !ok || len(kb.InlineKeyboard) != 2 || *kb.InlineKeyboard[0][0].CallbackData != "yes" || *kb.InlineKeyboard[1][0].CallbackData != "no" {
		t.Errorf("unexpected keyboard: %+v", q.ReplyMarkup)
	}
	if h.state() != session.Unauthenticated {
		t.Errorf("state=%s", h.state())
	}
}

func TestStartWithSession(t *testing.T) {
	h := newHarness(t)
	h.activate()
	h.handle(commandUpdate("start"))

	texts := h.api.texts()
	if len(texts) != 2 || texts[1] != "Hello Ann Lee , What Can I Help With ?" {
		t.Errorf("texts=%q", texts)
	}
	if h.state() != session.Active {
		t.Errorf("state=%s", h.state())
	}
}

func TestDeclineCreatesNoSession(t *testing.T) {
	h := newHarness(t)
	h.handle(commandUpdate("start"))
	h.handle(callbackUpdate("no"))

	texts := h.api.texts()
	if texts[len(texts)-1] != farewellMsg {
		t.Errorf("last text=%q want farewell", texts[len(texts)-1])
	}
	if n := h.api.count(isAnimation); n != 2 {
		t.Errorf("animations=%d want 2", n)
	}
	if h.store.Len() != 0 || h.state() != session.Unauthenticated {
		t.Errorf("session created: len=%d state=%s", h.store.Len(), h.state())
	}
	cb, ok := h.api.requests[0].(tgbotapi.CallbackConfig)
	if !ok || cb.CallbackQueryID != "cb-1" {
		t.Errorf("callback not acknowledged: %+v", h.api.requests)
	}
}

func TestContinuePromptsForKey(t *testing.T) {
	h := newHarness(t)
	h.handle(callbackUpdate("yes"))

	texts := h.api.texts()
	if len(texts) != 2 || texts[0] != letsStartMsg || texts[1] != writeKeyMsg {
		t.Errorf("texts=%q", texts)
	}
	if h.state() != session.AwaitingKey {
		t.Errorf("state=%s want awaiting_key", h.state())
	}
}

func TestKeyAccepted(t *testing.T) {
	h := newHarness(t)
	h.handle(callbackUpdate("yes"))
	h.handle(textUpdate(42, "sk-abc123xyz"))

	if len(h.keys.keys) != 1 || h.keys.keys[0] != "sk-abc123xyz" {
		t.Fatalf("validated keys=%q", h.keys.keys)
	}
	var deleted bool
	for _, r := range h.api.requests {
		if d, ok := r.(tgbotapi.DeleteMessageConfig); ok && d.MessageID == 42 && d.ChatID == testUser {
			deleted = true
		}
	}
	if !deleted {
		t.Error("key message not deleted")
	}

	texts := h.api.texts()
	if !contains(texts, "Key : sk-*************xyz success") {
		t.Errorf("no masked confirmation in %q", texts)
	}
	if !contains(texts, "Hello Ann Lee , What Can I Help With ?") {
		t.Errorf("no greeting in %q", texts)
	}
	for _, s := range texts {
		if strings.Contains(s, "abc123") {
			t.Errorf("key leaked: %q", s)
		}
	}
	st, sess := h.store.Get(testUser)
	if st != session.Active || sess == nil || sess.APIKey != "sk-abc123xyz" {
		t.Errorf("state=%s session=%v", st, sess)
	}
	if len(h.model.chatPrompts) != 0 {
		t.Error("key sent to the chat model")
	}
}

func TestKeyRejected(t *testing.T) {
	h := newHarness(t)
	h.keys.err = fmt.Errorf("validate key: %w", openaiutil.ErrInvalidKey)
	h.handle(callbackUpdate("yes"))
	h.handle(textUpdate(43, "sk-wrong000"))

	if h.state() != session.AwaitingKey {
		t.Errorf("state=%s want awaiting_key", h.state())
	}
	texts := h.api.texts()
	if texts[len(texts)-1] != keyRejectedMsg {
		t.Errorf("last text=%q", texts[len(texts)-1])
	}
	var deleted bool
	for _, r := range h.api.requests {
		if _, ok := r.(tgbotapi.DeleteMessageConfig); ok {
			deleted = true
		}
	}
	if !deleted {
		t.Error("rejected key message not deleted")
	}
}

func TestNonKeyNeverValidated(t *testing.T) {
	h := newHarness(t)
	h.handle(callbackUpdate("yes"))
	h.handle(textUpdate(44, "my key is sk-abc123xyz"))
	h.handle(textUpdate(45, "SK-abc123xyz"))

	if len(h.keys.keys) != 0 {
		t.Errorf("validated %q", h.keys.keys)
	}
	texts := h.api.texts()
	if texts[len(texts)-1] != keyReminderMsg {
		t.Errorf("last text=%q want reminder", texts[len(texts)-1])
	}
	if h.state() != session.AwaitingKey {
		t.Errorf("state=%s", h.state())
	}
}

func TestIsKey(t *testing.T) {
	tests := map[string]bool{
		"sk-abc":          true,
		"  sk-abc  ":      true,
		"sk-":             true,
		"ask-me anything": false,
		"my sk-abc":       false,
		"":                false,
	}
	for in, want := range tests {
		if got := IsKey(in); got != want {
			t.Errorf("IsKey(%q)=%v want %v", in, got, want)
		}
	}
}

func TestChat(t *testing.T) {
	h := newHarness(t)
	h.activate()
	h.handle(textUpdate(50, "hello there"))

	if len(h.model.chatPrompts) != 1 || h.model.chatPrompts[0] != "hello there" {
		t.Errorf("prompts=%q", h.model.chatPrompts)
	}
	m := h.api.sent[0].(tgbotapi.MessageConfig)
	if m.Text != "model answer" || m.ParseMode != markdownMode {
		t.Errorf("reply=%+v", m)
	}
}

func TestChatReplyTo(t *testing.T) {
	h := newHarness(t)
	h.activate()
	u := textUpdate(51, "and in French?")
	u.Message.ReplyToMessage = &tgbotapi.Message{MessageID: 49, Text: "Say good morning"}
	h.handle(u)

	if len(h.model.chatPrompts) != 1 || h.model.chatPrompts[0] != "Say good morning in addition to and in French?" {
		t.Errorf("prompts=%q", h.model.chatPrompts)
	}
}

func TestChatMarkdownFallback(t *testing.T) {
	h := newHarness(t)
	h.api.failMarkdown = true
	h.activate()
	h.handle(textUpdate(52, "hi"))

	texts := h.api.texts()
	if len(texts) != 1 || texts[0] != "model answer" {
		t.Errorf("texts=%q", texts)
	}
}

func TestDrawSendsPhoto(t *testing.T) {
	h := newHarness(t)
	h.activate()
	h.handle(textUpdate(53, "Draw a red apple"))

	if h.model.imagePrompt != "Draw a red apple" || h.model.imageSize != "1024x1024" {
		t.Errorf("image request=(%q, %q)", h.model.imagePrompt, h.model.imageSize)
	}
	if len(h.model.chatPrompts) != 0 {
		t.Error("draw request sent to chat")
	}
	photo, ok := h.api.sent[0].(tgbotapi.PhotoConfig)
	if !ok {
		t.Fatalf("sent %T want photo", h.api.sent[0])
	}
	if photo.Caption != "A shiny red apple" || photo.File != tgbotapi.FileURL("https://images.example/apple.png") {
		t.Errorf("photo=%+v", photo)
	}
}

func TestDocumentPDF(t *testing.T) {
	h := newHarness(t)
	h.activate()
	h.handle(documentUpdate("pdf-1", "application/pdf", "Summarize this file"))

	if h.docs.question != "Summarize this file" || h.docs.fileContent != "%PDF-1.4 fake" {
		t.Errorf("docs call=%+v", h.docs)
	}
	if _, err := os.Stat(h.docs.path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("downloaded pdf not removed: %v", err)
	}
	if texts := h.api.texts(); len(texts) != 1 || texts[0] != "pdf answer" {
		t.Errorf("texts=%q", texts)
	}
	assertTempEmpty(t, h.tmp)
}

func TestDocumentText(t *testing.T) {
	h := newHarness(t)
	h.activate()
	h.handle(documentUpdate("txt-1", "text/plain; charset=utf-8", ""))

	if h.docs.text != "plain text document" || h.docs.question != defaultQuestion {
		t.Errorf("docs call=%+v", h.docs)
	}
	if texts := h.api.texts(); len(texts) != 1 || texts[0] != "text answer" {
		t.Errorf("texts=%q", texts)
	}
}

func TestDocumentUnsupported(t *testing.T) {
	h := newHarness(t)
	h.activate()
	h.handle(documentUpdate("docx-1", "application/vnd.openxmlformats-officedocument.wordprocessingml.document", "what is this"))

	texts := h.api.texts()
	if len(texts) != 1 || texts[0] != "Please send the file in PDF or TXT format" {
		t.Errorf("texts=%q", texts)
	}
	if h.docs.question != "" || len(h.model.chatPrompts) != 0 {
		t.Error("model called for an unsupported document")
	}
	if h.state() != session.Active {
		t.Errorf("state=%s", h.state())
	}
}

func TestDocumentUnreadable(t *testing.T) {
	h := newHarness(t)
	h.activate()
	h.docs.err = fmt.Errorf("%w: malformed pdf", rag.ErrDocumentLoad)
	h.handle(documentUpdate("pdf-1", "application/pdf", ""))

	if texts := h.api.texts(); len(texts) != 1 || texts[0] != unreadableFileMsg {
		t.Errorf("texts=%q", texts)
	}
	assertTempEmpty(t, h.tmp)
}

func TestVoice(t *testing.T) {
	h := newHarness(t)
	h.activate()
	h.handle(voiceUpdate("voice-1"))

	if !h.model.audioExisted || !strings.HasSuffix(h.model.audioPath, ".ogg") {
		t.Errorf("audio not downloaded before transcription: %q", h.model.audioPath)
	}
	if len(h.model.chatPrompts) != 1 || h.model.chatPrompts[0] != "what time is it" {
		t.Errorf("prompts=%q", h.model.chatPrompts)
	}
	assertTempEmpty(t, h.tmp)
}

func TestVoiceFailureRemovesFile(t *testing.T) {
	h := newHarness(t)
	h.activate()
	h.model.transErr = errors.New("model provider error")
	h.handle(voiceUpdate("voice-1"))

	if !h.model.audioExisted {
		t.Error("transcription did not see the audio file")
	}
	assertTempEmpty(t, h.tmp)
	if texts := h.api.texts(); len(texts) != 1 || texts[0] != genericErrorMsg {
		t.Errorf("texts=%q", texts)
	}
	if h.state() != session.Active {
		t.Errorf("state=%s", h.state())
	}
}

func TestVoiceDownloadFailure(t *testing.T) {
	h := newHarness(t)
	h.activate()
	h.handle(voiceUpdate("missing"))

	if h.model.audioPath != "" {
		t.Error("transcription called without audio")
	}
	assertTempEmpty(t, h.tmp)
}

func TestTimeoutMessage(t *testing.T) {
	h := newHarness(t)
	h.activate()
	h.model.chatErr = fmt.Errorf("chat: %w: %w", openaiutil.ErrUpstream, context.DeadlineExceeded)
	h.handle(textUpdate(60, "slow question"))

	if texts := h.api.texts(); len(texts) != 1 || texts[0] != timeoutMsg {
		t.Errorf("texts=%q", texts)
	}
}

func TestPanicIsReported(t *testing.T) {
	h := newHarness(t)
	h.activate()
	h.model.panicOnChat = true
	h.handle(textUpdate(61, "hi"))

	if texts := h.api.texts(); len(texts) != 1 || texts[0] != genericErrorMsg {
		t.Errorf("texts=%q", texts)
	}
}

func TestNoSessionRestartsGreeting(t *testing.T) {
	h := newHarness(t)
	h.handle(textUpdate(62, "hello?"))

	texts := h.api.texts()
	if len(texts) != 3 || texts[2] != continueQuestion {
		t.Errorf("texts=%q want onboarding", texts)
	}
	if len(h.model.chatPrompts) != 0 {
		t.Error("chat called without a session")
	}
}

func TestForget(t *testing.T) {
	h := newHarness(t)
	h.activate()
	h.handle(commandUpdate("off"))

	if h.state() != session.Unauthenticated || h.store.Len() != 0 {
		t.Errorf("session kept: state=%s", h.state())
	}
	h.handle(commandUpdate("off"))
	texts := h.api.texts()
	if len(texts) != 2 || texts[0] != keyDeletedMsg || texts[1] != noKeyMsg {
		t.Errorf("texts=%q", texts)
	}
}

func TestUnknownCommand(t *testing.T) {
	h := newHarness(t)
	h.handle(commandUpdate("help"))
	if texts := h.api.texts(); len(texts) != 1 || texts[0] != unknownCommandMsg {
		t.Errorf("texts=%q", texts)
	}
}

func TestUsersAreIndependent(t *testing.T) {
	h := newHarness(t)
	h.activate()

	other := textUpdate(70, "hello")
	other.Message.From = &tgbotapi.User{ID: 2002, FirstName: "Bob"}
	other.Message.Chat = &tgbotapi.Chat{ID: 2002}
	h.handle(other)

	if len(h.model.chatPrompts) != 0 {
		t.Error("another user's message used this user's session")
	}
	if st, _ := h.store.Get(2002); st != session.Unauthenticated {
		t.Errorf("other user state=%s", st)
	}
}

func TestKindOf(t *testing.T) {
	tests := map[string]DocumentKind{
		"text/plain":                PlainText,
		"text/plain; charset=utf-8": PlainText,
		"application/pdf":           PDF,
		"Application/PDF":           PDF,
		"application/msword":        Unsupported,
		"image/png":                 Unsupported,
		"":                          Unsupported,
	}
	for in, want := range tests {
		if got := KindOf(in); got != want {
			t.Errorf("KindOf(%q)=%s want %s", in, got, want)
		}
	}
}
