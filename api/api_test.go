package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rpupo63/blog-backend/auth"
	"github.com/rpupo63/blog-backend/database"
	"github.com/rpupo63/blog-backend/filestore"
	"github.com/rpupo63/blog-backend/jobs"
	"github.com/rpupo63/blog-backend/models"
	"github.com/rpupo63/blog-backend/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type recordingNotifier struct {
	events []services.PostEvent
}

func (r *recordingNotifier) Notify(ctx context.Context, event services.PostEvent) {
	r.events = append(r.events, event)
}

type testServer struct {
	router   *chi.Mux
	tokens   *auth.Tokens
	notifier *recordingNotifier
	files    *filestore.FS
	registry *prometheus.Registry
	db       database.Database
	queue    *jobs.Queue
}

func setupTestServer(t *testing.T, cfg map[string]string) testServer {
	t.Helper()

	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db := database.New(gdb)
	require.NoError(t, db.Migrate())

	files, err := filestore.NewFS(t.TempDir())
	require.NoError(t, err)
	tokens, err := auth.NewTokens("test-secret", time.Hour)
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	queue := jobs.NewQueue(rdb, "mail")

	notifier := &recordingNotifier{}
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "test_counter_total", Help: "test"}))

	deps := Dependencies{
		Database: db,
		Posts:    services.NewPostService(db.PostRepo(), files, notifier),
		Jobs:     services.NewJobAdmin(db.FailedJobRepo(), queue),
		Tokens:   tokens,
		Metrics:  registry,
		Checks: map[string]HealthCheck{
			"database": func(ctx context.Context) error { return db.Ping() },
		},
	}
	if cfg == nil {
		cfg = map[string]string{}
	}

	return testServer{
		router:   newRouter(deps, withConfig(cfg)),
		tokens:   tokens,
		notifier: notifier,
		files:    files,
		registry: registry,
		db:       db,
		queue:    queue,
	}
}

func (s testServer) token(t *testing.T, userID uuid.UUID) string {
	t.Helper()
	token, err := s.tokens.Generate(userID, "u1@x.com")
	require.NoError(t, err)
	return token
}

func (s testServer) do(t *testing.T, method, path, token string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s testServer) doAdmin(t *testing.T, method, path, adminToken string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if adminToken != "" {
		req.Header.Set(adminTokenHeader, adminToken)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func jsonBody(t *testing.T, v any) *bytes.Buffer {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewBuffer(data)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

type filePart struct {
	name        string
	contentType string
	data        []byte
}

func multipartBody(t *testing.T, fields map[string][]string, file *filePart) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for name, values := range fields {
		for _, value := range values {
			require.NoError(t, writer.WriteField(name, value))
		}
	}
	if file != nil {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", `form-data; name="file"; filename="`+file.name+`"`)
		if file.contentType != "" {
			header.Set("Content-Type", file.contentType)
		}
		part, err := writer.CreatePart(header)
		require.NoError(t, err)
		_, err = part.Write(file.data)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func TestPostsRequireToken(t *testing.T) {
	s := setupTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/posts", "", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodGet, "/posts", "not-a-jwt", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "authorization", decode[ErrorResponse](t, rec).Field)
}

func TestCreateAndFetchPostWithJSON(t *testing.T) {
	s := setupTestServer(t, nil)
	token := s.token(t, uuid.New())

	rec := s.do(t, http.MethodPost, "/posts", token, jsonBody(t, map[string]any{
		"title":       "T",
		"description": "D",
		"tags":        []map[string]string{{"name": "a"}},
	}), "application/json")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")

	created := decode[postResponse](t, rec)
	assert.Equal(t, "T", created.Title)
	assert.Equal(t, "D", *created.Description)
	require.Len(t, created.Tags, 1)
	assert.Equal(t, "a", created.Tags[0].Name)
	require.Len(t, s.notifier.events, 1)
	assert.Equal(t, services.PostCreated, s.notifier.events[0].Kind)
	assert.Equal(t, "u1@x.com", s.notifier.events[0].Recipient)

	rec = s.do(t, http.MethodGet, "/posts/"+created.ID.String(), token, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, created.ID, decode[postResponse](t, rec).ID)

	rec = s.do(t, http.MethodGet, "/posts", token, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[postCollectionResponse](t, rec)
	assert.Equal(t, 1, list.Total)
}

func TestCreatePostValidationErrorListsFields(t *testing.T) {
	s := setupTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/posts", s.token(t, uuid.New()), jsonBody(t, map[string]any{
		"tags": []map[string]string{{"name": ""}},
	}), "application/json")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	resp := decode[ErrorResponse](t, rec)
	assert.Len(t, resp.Fields, 2)
	assert.Empty(t, s.notifier.events)
}

func TestCreatePostMalformedJSON(t *testing.T) {
	s := setupTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/posts", s.token(t, uuid.New()), bytes.NewBufferString("{"), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreatePostWithMultipartUpload(t *testing.T) {
	s := setupTestServer(t, nil)
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

	body, contentType := multipartBody(t, map[string][]string{
		"title": {"with file"},
		"tags":  {"a", "b"},
	}, &filePart{name: "pic", data: png})

	rec := s.do(t, http.MethodPost, "/posts", s.token(t, uuid.New()), body, contentType)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	created := decode[postResponse](t, rec)
	require.NotNil(t, created.FileName)
	assert.True(t, strings.HasSuffix(*created.FileName, ".png"), "mime type is sniffed when the part declares none")
	assert.Len(t, created.Tags, 2)

	exists, err := s.files.Exists(context.Background(), *created.FileName)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestCreatePostRejectsUnsupportedFile(t *testing.T) {
	s := setupTestServer(t, nil)

	body, contentType := multipartBody(t, map[string][]string{"title": {"T"}},
		&filePart{name: "movie.mp4", contentType: "video/mp4", data: []byte("....")})

	rec := s.do(t, http.MethodPost, "/posts", s.token(t, uuid.New()), body, contentType)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestCreatePostRejectsOversizedFile(t *testing.T) {
	s := setupTestServer(t, map[string]string{"MAX_FILE_SIZE_BYTES": "16"})

	body, contentType := multipartBody(t, map[string][]string{"title": {"T"}},
		&filePart{name: "notes.txt", contentType: "text/plain", data: bytes.Repeat([]byte("x"), 64)})

	rec := s.do(t, http.MethodPost, "/posts", s.token(t, uuid.New()), body, contentType)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestCreatePostRejectsOversizedJSON(t *testing.T) {
	s := setupTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/posts", s.token(t, uuid.New()), jsonBody(t, map[string]any{
		"title":       "T",
		"description": strings.Repeat("x", maxJSONBody),
	}), "application/json")
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "body", decode[ErrorResponse](t, rec).Field)
	assert.Empty(t, s.notifier.events)
}

func TestUpdatePost(t *testing.T) {
	s := setupTestServer(t, nil)
	token := s.token(t, uuid.New())

	rec := s.do(t, http.MethodPost, "/posts", token, jsonBody(t, map[string]any{"title": "old", "tags": []map[string]string{{"name": "a"}}}), "application/json")
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[postResponse](t, rec)

	rec = s.do(t, http.MethodPatch, "/posts/"+created.ID.String(), token,
		jsonBody(t, map[string]any{"title": "new", "tags": []map[string]string{{"name": "b"}}}), "application/json")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	updated := decode[postResponse](t, rec)
	assert.Equal(t, "new", updated.Title)
	assert.Len(t, updated.Tags, 2)
}

func TestPostsOfOtherOwnersAreNotFound(t *testing.T) {
	s := setupTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/posts", s.token(t, uuid.New()), jsonBody(t, map[string]any{"title": "mine"}), "application/json")
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[postResponse](t, rec)

	intruder := s.token(t, uuid.New())
	foreign := s.do(t, http.MethodGet, "/posts/"+created.ID.String(), intruder, nil, "")
	missing := s.do(t, http.MethodGet, "/posts/"+uuid.NewString(), intruder, nil, "")
	patched := s.do(t, http.MethodPatch, "/posts/"+created.ID.String(), intruder, jsonBody(t, map[string]any{"title": "x"}), "application/json")

	assert.Equal(t, http.StatusNotFound, foreign.Code)
	assert.Equal(t, http.StatusNotFound, missing.Code)
	assert.Equal(t, http.StatusNotFound, patched.Code)
	assert.Equal(t, missing.Body.String(), foreign.Body.String())
	assert.Len(t, s.notifier.events, 1)
}

func TestDeletePostTwice(t *testing.T) {
	s := setupTestServer(t, nil)
	token := s.token(t, uuid.New())

	rec := s.do(t, http.MethodPost, "/posts", token, jsonBody(t, map[string]any{"title": "bye"}), "application/json")
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[postResponse](t, rec)

	rec = s.do(t, http.MethodDelete, "/posts/"+created.ID.String(), token, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[deleteResponse](t, rec).Deleted)

	rec = s.do(t, http.MethodDelete, "/posts/"+created.ID.String(), token, nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRegisterLoginProfile(t *testing.T) {
	s := setupTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/auth/register", "", jsonBody(t, registerRequest{
		Username: "alice", Password: "correct horse", Email: "alice@example.com",
	}), "application/json")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/auth/register", "", jsonBody(t, registerRequest{
		Username: "alice", Password: "another one", Email: "a2@example.com",
	}), "application/json")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPost, "/auth/login", "", jsonBody(t, loginRequest{Username: "alice", Password: "wrong password"}), "application/json")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodPost, "/auth/login", "", jsonBody(t, loginRequest{Username: "alice", Password: "correct horse"}), "application/json")
	require.Equal(t, http.StatusOK, rec.Code)
	token := decode[tokenResponse](t, rec).Token

	rec = s.do(t, http.MethodGet, "/auth/profile", token, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	profile := decode[profileResponse](t, rec)
	assert.Equal(t, "alice", profile.Username)
	assert.Equal(t, "alice@example.com", profile.Email)
}

func TestRegisterValidatesEmail(t *testing.T) {
	s := setupTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/auth/register", "", jsonBody(t, registerRequest{
		Username: "bob", Password: "long enough", Email: "not-an-email",
	}), "application/json")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "email", decode[ErrorResponse](t, rec).Field)
}

func TestHealthAndMetrics(t *testing.T) {
	s := setupTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/health", "", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	health := decode[healthResponse](t, rec)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "ok", health.Checks["database"])

	rec = s.do(t, http.MethodGet, "/metrics", "", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "test_counter_total")
}

func TestHealthReportsFailingCheck(t *testing.T) {
	h := newHealthHandler(map[string]HealthCheck{
		"redis": func(ctx context.Context) error { return errors.New("connection refused") },
	}, time.Now())

	rec := httptest.NewRecorder()
	h.health()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", decode[healthResponse](t, rec).Status)
}

func TestCORSPreflightFromUnknownOrigin(t *testing.T) {
	s := setupTestServer(t, map[string]string{"ACCEPTED_ORIGINS": "https://blog.example.com"})

	req := httptest.NewRequest(http.MethodOptions, "/posts", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodOptions, "/posts", nil)
	req.Header.Set("Origin", "https://blog.example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, "https://blog.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestAdminRoutesAreNotMountedWithoutToken(t *testing.T) {
	s := setupTestServer(t, nil)

	rec := s.doAdmin(t, http.MethodGet, "/admin/jobs", "anything")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminRoutesRequireAdminToken(t *testing.T) {
	s := setupTestServer(t, map[string]string{"ADMIN_TOKEN": "ops-secret"})

	rec := s.doAdmin(t, http.MethodGet, "/admin/jobs", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.doAdmin(t, http.MethodGet, "/admin/jobs", "guess")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodGet, "/admin/jobs", s.token(t, uuid.New()), nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "a user token is not an admin token")
}

func TestAdminListsAndReplaysFailedJobs(t *testing.T) {
	s := setupTestServer(t, map[string]string{"ADMIN_TOKEN": "ops-secret"})
	ctx := context.Background()

	record := &models.FailedJob{
		JobID:       "7",
		Queue:       "mail",
		Name:        "send-mail",
		Payload:     datatypes.JSON(`{"to":"u1@x.com"}`),
		Attempts:    3,
		MaxAttempts: 3,
		Reason:      "smtp down",
		FailedAt:    time.Now().UTC(),
	}
	require.NoError(t, s.db.FailedJobRepo().Add(ctx, record))

	rec := s.doAdmin(t, http.MethodGet, "/admin/jobs", "ops-secret")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	overview := decode[services.JobOverview](t, rec)
	assert.Equal(t, "mail", overview.Queue)
	assert.Empty(t, overview.Waiting)
	require.Len(t, overview.Failed, 1)
	assert.Equal(t, record.ID, overview.Failed[0].ID)
	assert.Equal(t, "smtp down", overview.Failed[0].Reason)

	rec = s.doAdmin(t, http.MethodPost, "/admin/jobs/failed/"+record.ID.String()+"/replay", "ops-secret")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	replayed := decode[jobs.Job](t, rec)
	assert.Equal(t, "send-mail", replayed.Name)
	assert.Equal(t, 3, replayed.MaxAttempts)

	rec = s.doAdmin(t, http.MethodGet, "/admin/jobs", "ops-secret")
	require.Equal(t, http.StatusOK, rec.Code)
	overview = decode[services.JobOverview](t, rec)
	assert.Equal(t, int64(1), overview.Counts.Waiting)
	require.Len(t, overview.Waiting, 1)
	assert.Equal(t, replayed.ID, overview.Waiting[0].ID)
	assert.Empty(t, overview.Failed)

	rec = s.doAdmin(t, http.MethodPost, "/admin/jobs/failed/"+record.ID.String()+"/replay", "ops-secret")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.doAdmin(t, http.MethodPost, "/admin/jobs/failed/not-a-uuid/replay", "ops-secret")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
