package web

import (
	"cmp"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/MrWong99/pitchcoach/internal/analysis"
	"github.com/MrWong99/pitchcoach/internal/observe"
	"github.com/MrWong99/pitchcoach/internal/rules"
	"github.com/MrWong99/pitchcoach/internal/session"
)

// maxBodyBytes caps request bodies. A one hour transcript is well below it.
const maxBodyBytes = 4 << 20

const (
	detailSessionNotFound  = "Session not found"
	detailReportPending    = "Report not yet generated"
	detailEmptyTranscript  = "Empty transcript"
	detailSessionConnected = "Session already connected"
)

type analyzeRequest struct {
	Transcript string  `json:"transcript"`
	Duration   float64 `json:"duration"`
}

type analyzeResponse struct {
	SessionID      string           `json:"session_id"`
	Report         *analysis.Report `json:"report"`
	CoachingScript string           `json:"coaching_script"`
	Timestamp      string           `json:"timestamp"`
}

type reportResponse struct {
	SessionID       string           `json:"session_id"`
	Transcript      string           `json:"transcript"`
	DurationSeconds float64          `json:"duration_seconds"`
	Report          *analysis.Report `json:"report"`
	Timestamp       string           `json:"timestamp"`
}

type sessionSummary struct {
	SessionID string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
	Turns     int       `json:"turns"`
	HasReport bool      `json:"has_report"`
}

func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	rb := s.cfg.Analyzer.Rules()
	if rb == nil {
		rb = &rules.Rulebook{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"speech_region": s.cfg.Avatar.Region,
		"model_name":    s.cfg.ModelName,
		"rules":         rb,
	})
}

func (s *Server) handleAvatarConfig(w http.ResponseWriter, r *http.Request) {
	a := s.cfg.Avatar
	supported := slices.Contains(SupportedAvatarRegions, a.Region)
	if !supported {
		observe.Logger(r.Context()).Warn("speech region may not support the avatar",
			"region", a.Region, "supported", SupportedAvatarRegions)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"subscription_key":         a.SpeechKey,
		"region":                   a.Region,
		"supported_regions":        SupportedAvatarRegions,
		"current_region_supported": supported,
		"avatar_character":         cmp.Or(a.Character, DefaultAvatarCharacter),
		"avatar_style":             cmp.Or(a.Style, DefaultAvatarStyle),
		"voice_name":               cmp.Or(a.Voice, DefaultAvatarVoice),
		"video_format":             "webm",
		"video_codec":              "vp9",
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	list := s.cfg.Store.List()
	out := make([]sessionSummary, 0, len(list))
	for _, sess := range list {
		_, done := sess.Result()
		out = append(out, sessionSummary{
			SessionID: sess.ID,
			CreatedAt: sess.CreatedAt,
			Turns:     sess.Conversation().Len(),
			HasReport: done,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	sess := s.cfg.Store.Create(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{
		"session_id": sess.ID,
		"status":     "started",
		"timestamp":  s.timestamp(),
	})
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := observe.Logger(ctx)

	sess, err := s.cfg.Store.Get(r.PathValue("id"))
	if err != nil {
		writeDetail(w, http.StatusNotFound, detailSessionNotFound)
		return
	}

	var req analyzeRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeDetail(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Transcript) == "" {
		writeDetail(w, http.StatusBadRequest, detailEmptyTranscript)
		return
	}
	duration := time.Duration(req.Duration * float64(time.Second))

	log.Info("analyzing session", "session_id", sess.ID, "chars", len(req.Transcript))
	report, err := s.cfg.Analyzer.AnalyzeTimed(ctx, req.Transcript, duration)
	if err != nil {
		log.Error("analysis failed", "session_id", sess.ID, "err", err)
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	script, err := s.cfg.Analyzer.Script(ctx, report)
	if err != nil {
		log.Warn("coaching script failed, returning report only", "session_id", sess.ID, "err", err)
		script = ""
	}

	sess.SetResult(session.Result{
		Transcript: req.Transcript,
		Duration:   duration,
		Report:     report,
		Script:     script,
		AnalyzedAt: s.now().UTC(),
	})
	writeJSON(w, http.StatusOK, analyzeResponse{
		SessionID:      sess.ID,
		Report:         report,
		CoachingScript: script,
		Timestamp:      s.timestamp(),
	})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	sess, err := s.cfg.Store.Get(r.PathValue("id"))
	if err != nil {
		writeDetail(w, http.StatusNotFound, detailSessionNotFound)
		return
	}
	res, ok := sess.Result()
	if !ok || res.Report == nil {
		writeDetail(w, http.StatusNotFound, detailReportPending)
		return
	}
	writeJSON(w, http.StatusOK, reportResponse{
		SessionID:       sess.ID,
		Transcript:      res.Transcript,
		DurationSeconds: res.Duration.Seconds(),
		Report:          res.Report,
		Timestamp:       s.timestamp(),
	})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.cfg.Store.Delete(r.Context(), id) {
		writeDetail(w, http.StatusNotFound, detailSessionNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "session_id": id})
}
