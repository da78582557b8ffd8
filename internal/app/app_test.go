package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"wolkeposter/pkg/ai"
	"wolkeposter/pkg/auth"
	"wolkeposter/pkg/domain"
	"wolkeposter/pkg/queue"
	"wolkeposter/pkg/store"
)

type fakeObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{objects: make(map[string][]byte)}
}

func (f *fakeObjects) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	if f.putErr != nil {
		return f.putErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
	return nil
}

func (f *fakeObjects) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[key]; !ok {
		return "", errors.New("no such object")
	}
	return "https://signed.example/" + key, nil
}

type fakeGenerator struct {
	img []byte
	err error
}

func (f *fakeGenerator) GenerateImage(context.Context, string) ([]byte, error) {
	return f.img, f.err
}

type fakeQueue struct {
	mu         sync.Mutex
	jobs       []queue.Job
	enqueueErr error
}

func (f *fakeQueue) Enqueue(_ context.Context, backgroundID, posterID, themeText string) (queue.Job, error) {
	if f.enqueueErr != nil {
		return queue.Job{}, f.enqueueErr
	}
	job := queue.Job{
		ID:           fmt.Sprintf("job-%d", len(f.jobs)+1),
		BackgroundID: backgroundID,
		PosterID:     posterID,
		ThemeText:    themeText,
		Status:       queue.StatusQueued,
	}
	f.mu.Lock()
	f.jobs = append(f.jobs, job)
	f.mu.Unlock()
	return job, nil
}

type testEnv struct {
	app     *App
	store   *store.MemoryStore
	objects *fakeObjects
	gen     *fakeGenerator
	queue   *fakeQueue
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st := store.NewMemoryStore()
	sessions, err := store.NewJWTSessionStore("test-secret-test-secret", time.Hour, store.NewMemoryTokenRevoker(), store.JWTOptions{})
	if err != nil {
		t.Fatalf("new session store: %v", err)
	}
	objects := newFakeObjects()
	gen := &fakeGenerator{img: []byte("png-bytes")}
	q := &fakeQueue{}
	app, err := New(Config{
		Store:     st,
		Sessions:  sessions,
		Objects:   objects,
		Generator: gen,
		Queue:     q,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return &testEnv{app: app, store: st, objects: objects, gen: gen, queue: q}
}

func (e *testEnv) user(t *testing.T, username string) domain.User {
	t.Helper()
	hash, err := auth.HashPassword("correct-horse")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	user := domain.User{
		ID:           username + "-id",
		Username:     username,
		PasswordHash: hash,
		Role:         domain.RoleStoreOwner,
		CreatedAt:    time.Now().UTC(),
	}
	if err := e.store.SaveUser(user); err != nil {
		t.Fatalf("save user: %v", err)
	}
	return user
}

var _ ai.ImageGenerator = (*fakeGenerator)(nil)

func TestLogin(t *testing.T) {
	env := newTestEnv(t)
	user := env.user(t, "alice")

	got, token, err := env.app.Login("alice", "correct-horse", "")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if got.ID != user.ID {
		t.Errorf("logged in user = %q, want %q", got.ID, user.ID)
	}
	if token == "" {
		t.Error("expected a session token")
	}

	me, ok, err := env.app.Me(token)
	if err != nil || !ok {
		t.Fatalf("me: ok=%v err=%v", ok, err)
	}
	if me.Username != "alice" {
		t.Errorf("me username = %q, want alice", me.Username)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	env := newTestEnv(t)
	env.user(t, "alice")

	cases := []struct {
		name     string
		username string
		password string
	}{
		{"wrong password", "alice", "not-the-password"},
		{"unknown user", "nobody", "correct-horse"},
		{"empty password", "alice", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := env.app.Login(tc.username, tc.password, "")
			if !errors.Is(err, ErrInvalidCredentials) {
				t.Errorf("err = %v, want ErrInvalidCredentials", err)
			}
		})
	}
}

func TestLogoutInvalidatesToken(t *testing.T) {
	env := newTestEnv(t)
	env.user(t, "alice")

	_, token, err := env.app.Login("alice", "correct-horse", "")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if err := env.app.Logout(token); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, ok, _ := env.app.Me(token); ok {
		t.Error("token still valid after logout")
	}
}

func TestSeedAdmin(t *testing.T) {
	env := newTestEnv(t)

	if err := env.app.SeedAdmin("admin", "changeme-now"); err != nil {
		t.Fatalf("seed admin: %v", err)
	}
	admin, ok, err := env.store.GetUserByUsername("admin")
	if err != nil || !ok {
		t.Fatalf("seeded admin missing: ok=%v err=%v", ok, err)
	}
	if admin.Role != domain.RoleAdmin {
		t.Errorf("role = %q, want admin", admin.Role)
	}

	// A second seed against a non-empty table is a no-op.
	if err := env.app.SeedAdmin("admin2", "changeme-now"); err != nil {
		t.Fatalf("second seed: %v", err)
	}
	if _, ok, _ := env.store.GetUserByUsername("admin2"); ok {
		t.Error("second seed created a user on a non-empty table")
	}
}

func TestGenerateBackgroundEnqueues(t *testing.T) {
	env := newTestEnv(t)
	user := env.user(t, "alice")

	bg, err := env.app.GenerateBackground(context.Background(), user, "summer sale")
	if err != nil {
		t.Fatalf("generate background: %v", err)
	}
	if bg.Status != domain.BackgroundQueued {
		t.Errorf("status = %q, want queued", bg.Status)
	}
	if len(env.queue.jobs) != 1 {
		t.Fatalf("enqueued jobs = %d, want 1", len(env.queue.jobs))
	}
	if env.queue.jobs[0].BackgroundID != bg.ID {
		t.Errorf("job background = %q, want %q", env.queue.jobs[0].BackgroundID, bg.ID)
	}
}

func TestGenerateBackgroundRejectsShortTheme(t *testing.T) {
	env := newTestEnv(t)
	user := env.user(t, "alice")

	if _, err := env.app.GenerateBackground(context.Background(), user, "hi"); !errors.Is(err, ErrThemeTextTooShort) {
		t.Errorf("err = %v, want ErrThemeTextTooShort", err)
	}
	if len(env.queue.jobs) != 0 {
		t.Errorf("enqueued jobs = %d, want 0", len(env.queue.jobs))
	}
}

func TestGenerateBackgroundEnqueueFailureMarksFailed(t *testing.T) {
	env := newTestEnv(t)
	user := env.user(t, "alice")
	env.queue.enqueueErr = errors.New("redis down")

	_, err := env.app.GenerateBackground(context.Background(), user, "summer sale")
	if err == nil {
		t.Fatal("expected an error")
	}
	bgs, err := env.app.ListBackgrounds(user)
	if err != nil {
		t.Fatalf("list backgrounds: %v", err)
	}
	if len(bgs) != 1 || bgs[0].Status != domain.BackgroundFailed {
		t.Fatalf("backgrounds = %+v, want one failed record", bgs)
	}
}

func TestGenerationHandlerCompletesBackground(t *testing.T) {
	env := newTestEnv(t)
	user := env.user(t, "alice")

	bg, err := env.app.GenerateBackground(context.Background(), user, "summer sale")
	if err != nil {
		t.Fatalf("generate background: %v", err)
	}
	handler := env.app.GenerationHandler(3)
	job := env.queue.jobs[0]
	job.Attempts = 1
	if err := handler(context.Background(), job); err != nil {
		t.Fatalf("handler: %v", err)
	}

	got, err := env.app.GetBackground(user, bg.ID)
	if err != nil {
		t.Fatalf("get background: %v", err)
	}
	if got.Status != domain.BackgroundReady {
		t.Errorf("status = %q, want ready", got.Status)
	}
	if !strings.HasPrefix(got.URL, "/api/assets/") {
		t.Errorf("url = %q, want an asset reference", got.URL)
	}
}

func TestGenerationHandlerRetriesThenFails(t *testing.T) {
	env := newTestEnv(t)
	user := env.user(t, "alice")
	env.gen.err = errors.New("model unavailable")

	bg, err := env.app.GenerateBackground(context.Background(), user, "summer sale")
	if err != nil {
		t.Fatalf("generate background: %v", err)
	}
	handler := env.app.GenerationHandler(2)
	job := env.queue.jobs[0]

	// First attempt fails but stays retryable.
	job.Attempts = 1
	if err := handler(context.Background(), job); err == nil {
		t.Fatal("expected handler error on first attempt")
	}
	got, _ := env.app.GetBackground(user, bg.ID)
	if got.Status != domain.BackgroundGenerating {
		t.Fatalf("status after first attempt = %q, want generating", got.Status)
	}

	// Last attempt closes the record out.
	job.Attempts = 2
	if err := handler(context.Background(), job); err == nil {
		t.Fatal("expected handler error on last attempt")
	}
	got, err = env.app.GetBackground(user, bg.ID)
	if err != nil {
		t.Fatalf("get background: %v", err)
	}
	if got.Status != domain.BackgroundFailed {
		t.Errorf("status = %q, want failed", got.Status)
	}
	if got.ErrorMessage == "" {
		t.Error("expected an error message on the failed record")
	}
}

func TestGenerationHandlerSkipsTerminalBackground(t *testing.T) {
	env := newTestEnv(t)
	user := env.user(t, "alice")

	bg, err := env.app.GenerateBackground(context.Background(), user, "summer sale")
	if err != nil {
		t.Fatalf("generate background: %v", err)
	}
	if err := env.store.SetBackgroundResult(bg.ID, domain.BackgroundReady, "/api/assets/a/url", ""); err != nil {
		t.Fatalf("mark ready: %v", err)
	}

	env.gen.err = errors.New("should not be called")
	handler := env.app.GenerationHandler(3)
	if err := handler(context.Background(), env.queue.jobs[0]); err != nil {
		t.Fatalf("handler on terminal background: %v", err)
	}
	got, _ := env.app.GetBackground(user, bg.ID)
	if got.Status != domain.BackgroundReady || got.URL != "/api/assets/a/url" {
		t.Errorf("terminal record changed: %+v", got)
	}
}

func TestUploadBackground(t *testing.T) {
	env := newTestEnv(t)
	user := env.user(t, "alice")

	bg, err := env.app.UploadBackground(context.Background(), user, "beach.png", bytes.NewReader([]byte("img")), 3)
	if err != nil {
		t.Fatalf("upload background: %v", err)
	}
	if bg.Status != domain.BackgroundReady {
		t.Errorf("status = %q, want ready", bg.Status)
	}
	if len(env.objects.objects) != 1 {
		t.Errorf("stored objects = %d, want 1", len(env.objects.objects))
	}
}

func TestUploadBackgroundRejectsExtension(t *testing.T) {
	env := newTestEnv(t)
	user := env.user(t, "alice")

	_, err := env.app.UploadBackground(context.Background(), user, "script.exe", bytes.NewReader([]byte("x")), 1)
	if !errors.Is(err, ErrUnsupportedFileType) {
		t.Errorf("err = %v, want ErrUnsupportedFileType", err)
	}
	if len(env.objects.objects) != 0 {
		t.Error("rejected upload reached object storage")
	}
}

func TestGetBackgroundHidesOtherOwners(t *testing.T) {
	env := newTestEnv(t)
	alice := env.user(t, "alice")
	bob := env.user(t, "bob")

	bg, err := env.app.GenerateBackground(context.Background(), alice, "summer sale")
	if err != nil {
		t.Fatalf("generate background: %v", err)
	}
	if _, err := env.app.GetBackground(bob, bg.ID); !errors.Is(err, ErrBackgroundNotFound) {
		t.Errorf("cross-owner err = %v, want ErrBackgroundNotFound", err)
	}
}
