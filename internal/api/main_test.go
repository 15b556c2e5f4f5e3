package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"emberframe/internal/admin"
	"emberframe/internal/audit"
	"emberframe/internal/auth"
	"emberframe/internal/config"
	"emberframe/internal/database"
	"emberframe/internal/desktop"
	"emberframe/internal/files"
	"emberframe/internal/models"
	"emberframe/internal/profile"
	"emberframe/internal/ratelimit"
	"emberframe/internal/sharing"
	"emberframe/internal/storage"
	"emberframe/internal/websocket"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	testPassword      = "secret123"
	testLoginAttempts = 5
	testProxyNet      = "198.51.100.0/24"
	testProxy         = "198.51.100.7"
)

var (
	testServer  *Server
	testHandler http.Handler
	testAuth    *auth.Service

	userSeq atomic.Int64
	ipSeq   atomic.Int64
)

func TestMain(m *testing.M) {
	ctx, cancel := context.WithCancel(context.Background())

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("emberframe_api_test"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
		),
	)
	if err != nil {
		log.Fatalf("could not start postgres: %s", err)
	}

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		log.Fatalf("could not get connection string: %s", err)
	}
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		log.Fatalf("could not connect to database: %s", err)
	}
	if err := database.Migrate(pool); err != nil {
		log.Fatalf("could not apply migrations: %s", err)
	}

	tempDir, err := os.MkdirTemp("", "emberframe-api-test")
	if err != nil {
		log.Fatalf("could not create temp dir: %s", err)
	}

	cfg := &config.Config{
		Server: config.ServerConfig{CORSOrigins: []string{"*"}, TrustedProxies: []string{testProxyNet}},
		JWT:    config.JWTConfig{Secret: "api_test_secret_0123456789", TokenTTL: time.Hour, RefreshTTL: 24 * time.Hour},
		Auth:   config.AuthConfig{LoginAttempts: testLoginAttempts, LoginWindow: time.Minute, AllowRegistration: true},
		Storage: config.StorageConfig{
			Path:              tempDir,
			MaxFileSize:       10 << 20,
			DefaultQuota:      50 << 20,
			BlockedExtensions: []string{"exe"},
			ThumbnailSize:     200,
		},
	}

	store := database.NewStore(pool)
	hub := websocket.NewHub(nil)
	go hub.Run(ctx)

	sandbox, err := storage.NewSandbox(afero.NewOsFs(), tempDir)
	if err != nil {
		log.Fatalf("could not create sandbox: %s", err)
	}

	limiter := ratelimit.NewMemory(cfg.Auth.LoginAttempts, cfg.Auth.LoginWindow)
	recorder := audit.NewRecorder(store, hub, nil)

	testAuth, err = auth.NewService(store, limiter, recorder, auth.Options{
		Secret:            cfg.JWT.Secret,
		TokenTTL:          cfg.JWT.TokenTTL,
		RefreshTTL:        cfg.JWT.RefreshTTL,
		DefaultQuota:      cfg.Storage.DefaultQuota,
		AllowRegistration: cfg.Auth.AllowRegistration,
	}, nil)
	if err != nil {
		log.Fatalf("could not create auth service: %s", err)
	}

	thumbs := files.NewThumbnailer(sandbox, store, cfg.Storage.ThumbnailSize, nil)
	go thumbs.Run(ctx)

	fileService, err := files.NewService(files.Config{
		Repo:       store,
		Sandbox:    sandbox,
		Policy:     files.NewPolicy(cfg.Storage.MaxFileSize, cfg.Storage.BlockedExtensions),
		Audit:      recorder,
		Thumbnails: thumbs,
		Events:     hub,
	})
	if err != nil {
		log.Fatalf("could not create file service: %s", err)
	}

	profileService, err := profile.NewService(store, recorder, hub, nil)
	if err != nil {
		log.Fatalf("could not create profile service: %s", err)
	}

	shareService, err := sharing.NewService(sharing.Config{
		Repo:   store,
		Files:  fileService,
		Audit:  recorder,
		Events: hub,
	})
	if err != nil {
		log.Fatalf("could not create sharing service: %s", err)
	}

	desktops := desktop.NewManager(desktop.DefaultRegistry(), hub, nil)

	adminService, err := admin.NewService(admin.Config{
		Repo:       store,
		Users:      testAuth,
		Reconciler: fileService,
		Audit:      recorder,
		AuditLog:   recorder,
		Desktops:   desktops,
	})
	if err != nil {
		log.Fatalf("could not create admin service: %s", err)
	}

	testServer = NewServer(Deps{
		Config:  cfg,
		DB:      store,
		Auth:    testAuth,
		Files:   fileService,
		Profile: profileService,
		Sharing: shareService,
		Admin:   adminService,
		Desktop: desktops,
		Audit:   recorder,
		Hub:     hub,
	})
	testHandler = testServer.Routes()

	code := m.Run()

	cancel()
	pool.Close()
	os.RemoveAll(tempDir)
	if err := pgContainer.Terminate(context.Background()); err != nil {
		log.Printf("could not terminate postgres: %s", err)
	}
	os.Exit(code)
}

// nextIP hands out a fresh client address so tests do not share login
// rate limit buckets.
func nextIP() string {
	n := ipSeq.Add(1)
	return fmt.Sprintf("10.%d.%d.%d", (n>>16)&0xff, (n>>8)&0xff, n&0xff)
}

type testUser struct {
	*models.User
	Token   string
	Refresh string
}

func createTestUser(t *testing.T, isAdmin bool, quota int64) *testUser {
	t.Helper()
	ctx := context.Background()

	username := fmt.Sprintf("api_user_%d", userSeq.Add(1))
	user, err := testAuth.CreateUser(ctx, auth.NewUserParams{
		Username:   username,
		Password:   testPassword,
		IsAdmin:    isAdmin,
		QuotaBytes: quota,
	})
	require.NoError(t, err)

	pair, err := testAuth.Authenticate(ctx, username, testPassword, models.Actor{ClientIP: nextIP()})
	require.NoError(t, err)

	return &testUser{User: user, Token: pair.AccessToken, Refresh: pair.RefreshToken}
}

func doRequest(t *testing.T, method, target, token string, body io.Reader, contentType string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	return doRequestFrom(t, "", method, target, token, body, contentType, headers...)
}

// doRequestFrom sends the request as if its TCP peer were remote. An empty
// remote keeps the httptest default.
func doRequestFrom(t *testing.T, remote, method, target, token string, body io.Reader, contentType string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	if remote != "" {
		req.RemoteAddr = net.JoinHostPort(remote, "40000")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	testHandler.ServeHTTP(rr, req)
	return rr
}

func doJSON(t *testing.T, method, target, token string, v interface{}, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	return doJSONFrom(t, "", method, target, token, v, headers...)
}

func doJSONFrom(t *testing.T, remote, method, target, token string, v interface{}, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader = http.NoBody
	if v != nil {
		raw, err := json.Marshal(v)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	}
	return doRequestFrom(t, remote, method, target, token, body, "application/json", headers...)
}

// login posts credentials from the client address remote.
func login(t *testing.T, remote string, req LoginRequest, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	return doJSONFrom(t, remote, http.MethodPost, "/api/auth/login", "", req, headers...)
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func requireError(t *testing.T, rr *httptest.ResponseRecorder, status int, kind string) {
	t.Helper()
	require.Equal(t, status, rr.Code, rr.Body.String())
	require.Equal(t, kind, decode[ErrorResponse](t, rr).Error)
}

type uploadFile struct {
	name    string
	content string
}

func uploadFiles(t *testing.T, token, dir string, fs ...uploadFile) *httptest.ResponseRecorder {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for _, f := range fs {
		part, err := writer.CreateFormFile("files", f.name)
		require.NoError(t, err)
		_, err = io.WriteString(part, f.content)
		require.NoError(t, err)
	}
	require.NoError(t, writer.WriteField("path", dir))
	require.NoError(t, writer.Close())

	return doRequest(t, http.MethodPost, "/api/files/upload", token, body, writer.FormDataContentType())
}
