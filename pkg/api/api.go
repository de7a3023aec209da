package api

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"pressroom/pkg/config"
	"pressroom/pkg/errs"
	"pressroom/pkg/geometry"
	"pressroom/pkg/ledger"
	"pressroom/pkg/media"
	"pressroom/pkg/settings"
	"pressroom/pkg/telegram"
)

// Server is the HTTP console: a thin route layer over the core components.
// Handlers parse and validate input, call into the core, and translate the
// error taxonomy to status codes; all state lives below.
type Server struct {
	router     *gin.Engine
	cfg        *config.Config
	store      *settings.Store
	ledger     *ledger.Ledger
	pipeline   *media.Pipeline
	auth       *telegram.Authenticator
	dispatcher *telegram.Dispatcher
	logger     *zap.Logger
}

// NewServer wires the route layer.
func NewServer(cfg *config.Config, store *settings.Store, lg *ledger.Ledger,
	pipeline *media.Pipeline, auth *telegram.Authenticator,
	dispatcher *telegram.Dispatcher, logger *zap.Logger) *Server {

	router := gin.Default()
	s := &Server{
		router:     router,
		cfg:        cfg,
		store:      store,
		ledger:     lg,
		pipeline:   pipeline,
		auth:       auth,
		dispatcher: dispatcher,
		logger:     logger,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "OK") })
	s.router.POST("/login", s.handleLogin)

	authed := s.router.Group("/", authMiddleware([]byte(s.cfg.Server.JWTSecret), s.logger))
	{
		authed.GET("/messages", s.handleListMessages)
		authed.POST("/messages", s.handleNewMessage)
		authed.GET("/settings", s.handleGetSettings)
		authed.PUT("/settings", s.handleUpdateSettings)
		authed.POST("/settings/watermark", s.handleUploadWatermark)
		authed.POST("/telegram/code", s.handleRequestCode)
		authed.POST("/telegram/login", s.handleSubmitCode)
		authed.GET("/telegram/status", s.handleTelegramStatus)
		authed.GET("/media/:name", s.handleMediaFile)
	}
}

// Router exposes the gin engine, mainly for tests.
func (s *Server) Router() *gin.Engine { return s.router }

// Start runs the HTTP server on the configured address.
func (s *Server) Start() error {
	s.logger.Info("console starting", zap.String("address", s.cfg.Server.Address))
	return s.router.Run(s.cfg.Server.Address)
}

type loginRequest struct {
	Password string `json:"password" binding:"required"`
}

func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if subtle.ConstantTimeCompare([]byte(req.Password), []byte(s.cfg.Server.AppPassword)) != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "wrong password"})
		return
	}
	token, err := issueToken([]byte(s.cfg.Server.JWTSecret))
	if err != nil {
		s.logger.Error("Failed to issue token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

func (s *Server) handleListMessages(c *gin.Context) {
	records, err := s.ledger.List()
	if err != nil {
		s.logger.Error("Failed to list messages", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list messages"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": records})
}

// handleNewMessage captures a post: optional media is stored and redacted,
// the record is appended to the ledger, and, when requested, dispatched to
// Telegram. Dispatch failures are reported in the response body, not as an
// HTTP error: the post itself was stored.
func (s *Server) handleNewMessage(c *gin.Context) {
	text := strings.TrimSpace(c.PostForm("text"))
	sendTelegram := c.PostForm("send_telegram") == "on"
	sendFacebook := c.PostForm("send_facebook") == "on"

	req, err := s.redactionRequest(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rec := ledger.Record{
		Text:         text,
		SendTelegram: sendTelegram,
		SendFacebook: sendFacebook,
	}

	var mediaWarning string
	if file, ferr := c.FormFile("media"); ferr == nil && file != nil {
		ext := filepath.Ext(file.Filename)
		kind := media.KindForExt(ext)
		if kind == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unsupported media format %q", ext)})
			return
		}
		name := media.UploadName(kind, ext)
		if err := c.SaveUploadedFile(file, filepath.Join(s.cfg.MediaDir(), name)); err != nil {
			s.logger.Error("Failed to store upload", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store upload"})
			return
		}
		rec.MediaFilename = name
		rec.MediaType = kind
	}

	id, err := s.ledger.Append(rec)
	if err != nil {
		s.logger.Error("Failed to append message", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store message"})
		return
	}
	rec.ID = id

	if rec.MediaFilename != "" {
		src := filepath.Join(s.cfg.MediaDir(), rec.MediaFilename)
		processed, perr := s.pipeline.Process(c.Request.Context(), src, rec.MediaType, req)
		if perr != nil {
			// The post survives without the derived asset.
			s.logger.Warn("media processing failed", zap.Int64("id", id), zap.Error(perr))
			mediaWarning = perr.Error()
		} else {
			rec.ProcessedFilename = filepath.Base(processed.Path)
			if processed.Thumb != "" {
				rec.ThumbFilename = filepath.Base(processed.Thumb)
			}
			if aerr := s.ledger.AttachProcessed(id, rec.ProcessedFilename, rec.ThumbFilename); aerr != nil {
				s.logger.Error("Failed to attach processed media", zap.Int64("id", id), zap.Error(aerr))
			}
		}
	}

	resp := gin.H{"id": id}
	if mediaWarning != "" {
		resp["media_warning"] = mediaWarning
	}

	if sendTelegram {
		if derr := s.dispatcher.Send(c.Request.Context(), rec); derr != nil {
			s.logger.Warn("telegram dispatch failed", zap.Int64("id", id), zap.Error(derr))
			resp["telegram_sent"] = false
			resp["telegram_error"] = derr.Error()
		} else {
			resp["telegram_sent"] = true
		}
	}

	c.JSON(http.StatusCreated, resp)
}

// redactionRequest parses the blur/watermark form fields. Blur coordinates
// arrive normalized to [0,1]; clamping to the real frame happens inside the
// pipeline where the frame size is known.
func (s *Server) redactionRequest(c *gin.Context) (media.RedactionRequest, error) {
	var req media.RedactionRequest

	if c.PostForm("blur") == "on" {
		req.BlurRequested = true
		rect := geometry.Rect{}
		var set bool
		for field, dst := range map[string]*float64{
			"blur_x": &rect.X, "blur_y": &rect.Y, "blur_w": &rect.W, "blur_h": &rect.H,
		} {
			if v := c.PostForm(field); v != "" {
				if _, err := fmt.Sscanf(v, "%g", dst); err != nil {
					return req, fmt.Errorf("invalid %s: %q", field, v)
				}
				set = true
			}
		}
		if set {
			req.Region = &rect
		}
	}

	if _, err := os.Stat(s.cfg.WatermarkPath()); err == nil {
		req.Watermark = &media.WatermarkSpec{
			Path:   s.cfg.WatermarkPath(),
			Scale:  s.cfg.Media.WatermarkScale,
			Margin: s.cfg.Media.WatermarkMargin,
			Anchor: media.AnchorBottomRight,
		}
	}
	return req, nil
}

func (s *Server) handleGetSettings(c *gin.Context) {
	cur, err := s.store.Load()
	if err != nil {
		s.logger.Error("Failed to load settings", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load settings"})
		return
	}
	_, werr := os.Stat(s.cfg.WatermarkPath())
	c.JSON(http.StatusOK, gin.H{
		"settings":         cur,
		"watermark_exists": werr == nil,
	})
}

type updateSettingsRequest struct {
	TelegramAPIID     *int    `json:"telegram_api_id"`
	TelegramAPIHash   *string `json:"telegram_api_hash"`
	TelegramPhone     *string `json:"telegram_phone"`
	TelegramPassword  *string `json:"telegram_password"`
	TelegramTarget    *string `json:"telegram_target"`
	FacebookPageToken *string `json:"facebook_page_token"`
	FacebookPageID    *string `json:"facebook_page_id"`
}

func (s *Server) handleUpdateSettings(c *gin.Context) {
	var req updateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := s.store.Update(func(cur *settings.Settings) {
		if req.TelegramAPIID != nil {
			cur.TelegramAPIID = *req.TelegramAPIID
		}
		if req.TelegramAPIHash != nil {
			cur.TelegramAPIHash = strings.TrimSpace(*req.TelegramAPIHash)
		}
		if req.TelegramPhone != nil {
			cur.TelegramPhone = strings.TrimSpace(*req.TelegramPhone)
		}
		if req.TelegramPassword != nil {
			cur.TelegramPassword = *req.TelegramPassword
		}
		if req.TelegramTarget != nil {
			cur.TelegramTarget = strings.TrimSpace(*req.TelegramTarget)
		}
		if req.FacebookPageToken != nil {
			cur.FacebookPageToken = strings.TrimSpace(*req.FacebookPageToken)
		}
		if req.FacebookPageID != nil {
			cur.FacebookPageID = strings.TrimSpace(*req.FacebookPageID)
		}
	})
	if err != nil {
		s.logger.Error("Failed to save settings", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save settings"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "settings saved"})
}

// handleUploadWatermark stores a new watermark overlay. The upload is
// decode-verified in a temp location before it replaces the current asset.
func (s *Server) handleUploadWatermark(c *gin.Context) {
	file, err := c.FormFile("watermark_image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "watermark_image file required"})
		return
	}

	tmp := s.cfg.WatermarkPath() + ".tmp"
	if err := c.SaveUploadedFile(file, tmp); err != nil {
		s.logger.Error("Failed to store watermark upload", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store watermark"})
		return
	}
	if _, err := imaging.Open(tmp); err != nil {
		os.Remove(tmp)
		c.JSON(http.StatusBadRequest, gin.H{"error": "watermark image is not decodable"})
		return
	}
	if err := os.Rename(tmp, s.cfg.WatermarkPath()); err != nil {
		os.Remove(tmp)
		s.logger.Error("Failed to install watermark", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to install watermark"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "watermark saved"})
}

type requestCodeRequest struct {
	Phone string `json:"phone"`
}

func (s *Server) handleRequestCode(c *gin.Context) {
	var req requestCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.auth.RequestCode(c.Request.Context(), strings.TrimSpace(req.Phone)); err != nil {
		s.logger.Error("Failed to request login code", zap.Error(err))
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "login code sent"})
}

type submitCodeRequest struct {
	Phone    string `json:"phone"`
	Code     string `json:"code" binding:"required"`
	Password string `json:"password"`
}

func (s *Server) handleSubmitCode(c *gin.Context) {
	var req submitCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	err := s.auth.SubmitCode(c.Request.Context(),
		strings.TrimSpace(req.Phone), strings.TrimSpace(req.Code), req.Password)
	if err != nil {
		s.logger.Error("Telegram login failed", zap.Error(err))
		c.JSON(statusFor(err), gin.H{
			"error": err.Error(),
			"state": s.auth.State(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "telegram login complete", "state": s.auth.State()})
}

func (s *Server) handleTelegramStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"state": s.auth.State()})
}

func (s *Server) handleMediaFile(c *gin.Context) {
	name := c.Param("name")
	if name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid media name"})
		return
	}
	path := filepath.Join(s.cfg.MediaDir(), name)
	if _, err := os.Stat(path); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "media not found"})
		return
	}
	c.File(path)
}

// statusFor maps the error taxonomy to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errs.ErrNotConfigured), errors.Is(err, errs.ErrNoPendingCode):
		return http.StatusBadRequest
	case errors.Is(err, errs.ErrCodeInvalid), errors.Is(err, errs.ErrCodeExpired),
		errors.Is(err, errs.ErrPasswordRequired), errors.Is(err, errs.ErrSessionInvalid):
		return http.StatusUnauthorized
	case errors.Is(err, errs.ErrSendFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
