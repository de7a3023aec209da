package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image/color"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pressroom/pkg/config"
	"pressroom/pkg/ledger"
	"pressroom/pkg/media"
	"pressroom/pkg/settings"
	"pressroom/pkg/telegram"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeNetwork scripts the messaging side so handlers can be exercised
// without any real network.
type fakeNetwork struct {
	codeHash     string
	requestErr   error
	verifyErr    error
	sendErr      error
	sessionValid bool

	sent []string
}

func (f *fakeNetwork) RequestCode(context.Context, string) (string, error) {
	return f.codeHash, f.requestErr
}

func (f *fakeNetwork) VerifyCode(context.Context, string, string, string, string) error {
	return f.verifyErr
}

func (f *fakeNetwork) Send(_ context.Context, _, text, _ string, _ media.Kind) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeNetwork) SessionValid(context.Context) (bool, error) {
	return f.sessionValid, nil
}

type testEnv struct {
	server *Server
	cfg    *config.Config
	store  *settings.Store
	ledger *ledger.Ledger
	net    *fakeNetwork
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	cfg := &config.Config{
		Server: config.ServerConfig{
			Address:     ":0",
			AppPassword: "console-pass",
			JWTSecret:   "test-secret",
		},
		Data: config.DataConfig{Dir: dir, MaxMessages: 10},
		Media: config.MediaConfig{
			BlurRadius:      24,
			WatermarkScale:  0.25,
			WatermarkMargin: 0.03,
			FFmpegBin:       "ffmpeg",
		},
	}
	require.NoError(t, os.MkdirAll(cfg.MediaDir(), 0o755))

	logger := zap.NewNop()
	store := settings.NewStore(cfg.SettingsPath())
	book := ledger.New(cfg.MessagesPath(), cfg.MediaDir(), cfg.Data.MaxMessages, logger)
	pipeline := media.NewPipeline(media.NewRedactor(cfg.Media.BlurRadius, logger),
		media.ExecRunner{}, cfg.Media.FFmpegBin, 0, logger)

	net := &fakeNetwork{codeHash: "hash123", sessionValid: true}
	auth := telegram.NewAuthenticator(net, store, cfg.SessionPath(), logger)
	dispatcher := telegram.NewDispatcher(net, auth, store, cfg.MediaDir(), logger)

	return &testEnv{
		server: NewServer(cfg, store, book, pipeline, auth, dispatcher, logger),
		cfg:    cfg,
		store:  store,
		ledger: book,
		net:    net,
	}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
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
	w := httptest.NewRecorder()
	e.server.Router().ServeHTTP(w, req)
	return w
}

func (e *testEnv) login(t *testing.T) string {
	t.Helper()
	body := bytes.NewBufferString(`{"password":"console-pass"}`)
	w := e.do(t, http.MethodPost, "/login", "", body, "application/json")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	img := imaging.New(w, h, color.NRGBA{200, 120, 40, 255})
	require.NoError(t, imaging.Encode(&buf, img, imaging.PNG))
	return buf.Bytes()
}

func multipartBody(t *testing.T, fields map[string]string, fileField, fileName string, fileData []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if fileField != "" {
		fw, err := mw.CreateFormFile(fileField, fileName)
		require.NoError(t, err)
		_, err = fw.Write(fileData)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	e := newTestEnv(t)
	body := bytes.NewBufferString(`{"password":"nope"}`)
	w := e.do(t, http.MethodPost, "/login", "", body, "application/json")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRoutesRequireToken(t *testing.T) {
	e := newTestEnv(t)
	w := e.do(t, http.MethodGet, "/messages", "", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = e.do(t, http.MethodGet, "/messages", "not-a-jwt", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestTextOnlyMessageWithoutSessionIsStillStored(t *testing.T) {
	e := newTestEnv(t)
	token := e.login(t)

	body, ct := multipartBody(t, map[string]string{
		"text":          "breaking news",
		"send_telegram": "on",
	}, "", "", nil)
	w := e.do(t, http.MethodPost, "/messages", token, body, ct)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		ID            int64  `json:"id"`
		TelegramSent  bool   `json:"telegram_sent"`
		TelegramError string `json:"telegram_error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.TelegramSent)
	assert.NotEmpty(t, resp.TelegramError)

	// Dispatch failure never loses the record.
	rec, err := e.ledger.Get(resp.ID)
	require.NoError(t, err)
	assert.Equal(t, "breaking news", rec.Text)
	assert.Empty(t, e.net.sent)
}

func TestImageMessageRedactedAndDispatched(t *testing.T) {
	e := newTestEnv(t)
	token := e.login(t)

	// Configure a target and an authorized session so dispatch proceeds.
	require.NoError(t, e.store.Save(settings.Settings{
		TelegramAPIID:     1,
		TelegramAPIHash:   "h",
		TelegramTarget:    "@newsroom",
		SessionAuthorized: true,
	}))

	body, ct := multipartBody(t, map[string]string{
		"text":          "photo post",
		"send_telegram": "on",
		"blur":          "on",
		"blur_x":        "0.25",
		"blur_y":        "0.25",
		"blur_w":        "0.5",
		"blur_h":        "0.5",
	}, "media", "shot.png", pngBytes(t, 200, 150))
	w := e.do(t, http.MethodPost, "/messages", token, body, ct)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		ID           int64 `json:"id"`
		TelegramSent bool  `json:"telegram_sent"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.TelegramSent)
	assert.Equal(t, []string{"photo post"}, e.net.sent)

	rec, err := e.ledger.Get(resp.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, rec.MediaFilename)
	assert.NotEmpty(t, rec.ProcessedFilename)
	assert.Equal(t, media.KindImage, rec.MediaType)

	// Both the original and the derived artifact are on disk and servable.
	for _, name := range []string{rec.MediaFilename, rec.ProcessedFilename} {
		got := e.do(t, http.MethodGet, "/media/"+name, token, nil, "")
		assert.Equal(t, http.StatusOK, got.Code, name)
	}
}

func TestUnsupportedMediaRejected(t *testing.T) {
	e := newTestEnv(t)
	token := e.login(t)

	body, ct := multipartBody(t, map[string]string{"text": "x"},
		"media", "notes.txt", []byte("plain text"))
	w := e.do(t, http.MethodPost, "/messages", token, body, ct)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMediaNameValidation(t *testing.T) {
	e := newTestEnv(t)
	token := e.login(t)

	w := e.do(t, http.MethodGet, "/media/.hidden", token, nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodGet, "/media/absent.jpg", token, nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSettingsUpdateMergesFields(t *testing.T) {
	e := newTestEnv(t)
	token := e.login(t)

	body := bytes.NewBufferString(`{"telegram_api_id":777,"telegram_api_hash":"abc"}`)
	w := e.do(t, http.MethodPut, "/settings", token, body, "application/json")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body = bytes.NewBufferString(`{"telegram_target":"@newsroom"}`)
	w = e.do(t, http.MethodPut, "/settings", token, body, "application/json")
	require.Equal(t, http.StatusOK, w.Code)

	s, err := e.store.Load()
	require.NoError(t, err)
	assert.Equal(t, 777, s.TelegramAPIID)
	assert.Equal(t, "abc", s.TelegramAPIHash)
	assert.Equal(t, "@newsroom", s.TelegramTarget)
}

func TestWatermarkUploadVerifiesDecodability(t *testing.T) {
	e := newTestEnv(t)
	token := e.login(t)

	body, ct := multipartBody(t, nil, "watermark_image", "wm.png", []byte("not an image"))
	w := e.do(t, http.MethodPost, "/settings/watermark", token, body, ct)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	_, err := os.Stat(e.cfg.WatermarkPath())
	assert.True(t, os.IsNotExist(err), "rejected upload must not install an asset")

	body, ct = multipartBody(t, nil, "watermark_image", "wm.png", pngBytes(t, 40, 40))
	w = e.do(t, http.MethodPost, "/settings/watermark", token, body, ct)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	_, err = os.Stat(e.cfg.WatermarkPath())
	assert.NoError(t, err)
}

func TestTelegramLoginFlowOverHTTP(t *testing.T) {
	e := newTestEnv(t)
	token := e.login(t)

	require.NoError(t, e.store.Save(settings.Settings{
		TelegramAPIID:   1,
		TelegramAPIHash: "h",
		TelegramPhone:   "+15550001",
	}))

	w := e.do(t, http.MethodGet, "/telegram/status", token, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), string(telegram.StateUnauthenticated))

	body := bytes.NewBufferString(`{"phone":"+15550001"}`)
	w = e.do(t, http.MethodPost, "/telegram/code", token, body, "application/json")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body = bytes.NewBufferString(`{"phone":"+15550001","code":"54321"}`)
	w = e.do(t, http.MethodPost, "/telegram/login", token, body, "application/json")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), string(telegram.StateAuthenticated))
}

func TestTelegramCodeWithoutCredentials(t *testing.T) {
	e := newTestEnv(t)
	token := e.login(t)

	body := bytes.NewBufferString(`{"phone":"+15550001"}`)
	w := e.do(t, http.MethodPost, "/telegram/code", token, body, "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListMessagesNewestFirst(t *testing.T) {
	e := newTestEnv(t)
	token := e.login(t)

	for i := 0; i < 3; i++ {
		body, ct := multipartBody(t, map[string]string{"text": fmt.Sprintf("post %d", i)}, "", "", nil)
		w := e.do(t, http.MethodPost, "/messages", token, body, ct)
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := e.do(t, http.MethodGet, "/messages", token, nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Messages []ledger.Record `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Messages, 3)
	assert.Equal(t, "post 2", resp.Messages[0].Text)
}

func TestProcessedArtifactDistinctFromSource(t *testing.T) {
	e := newTestEnv(t)
	token := e.login(t)

	body, ct := multipartBody(t, map[string]string{
		"text": "keep source intact",
		"blur": "on",
	}, "media", "orig.png", pngBytes(t, 100, 100))
	w := e.do(t, http.MethodPost, "/messages", token, body, ct)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		ID int64 `json:"id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	rec, err := e.ledger.Get(resp.ID)
	require.NoError(t, err)
	require.NotEmpty(t, rec.ProcessedFilename)
	assert.NotEqual(t, rec.MediaFilename, rec.ProcessedFilename)

	orig := filepath.Join(e.cfg.MediaDir(), rec.MediaFilename)
	src := pngBytes(t, 100, 100)
	onDisk, err := os.ReadFile(orig)
	require.NoError(t, err)
	assert.Equal(t, src, onDisk, "source upload is never modified")
}
