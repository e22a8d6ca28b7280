package web

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"coursebot/internal/capture"
	"coursebot/internal/ics"
	appLog "coursebot/internal/log"
	"coursebot/internal/model"
	"coursebot/internal/schedule"
	"coursebot/internal/store"
)

// User-visible messages. Each failure mode gets its own text so the host
// can relay it to the chat verbatim.
const (
	msgBindPrompt   = "send your .ics schedule file in this group within %d seconds"
	msgBindDone     = "schedule bound to group %s"
	msgNotBound     = "you have not bound a schedule in this group; use the bind command first"
	msgFeedMissing  = "your schedule file is missing, please rebind"
	msgNoMoreToday  = "no classes left today"
	msgGroupIdle    = "nobody in this group has anything coming up"
	msgNoRequest    = "no open bind request (or it expired); use the bind command first"
	msgFeedBadParse = "that file does not look like a valid calendar"
)

type bindStartRequest struct {
	GroupID  string `json:"group_id"`
	UserID   string `json:"user_id"`
	Nickname string `json:"nickname"`
}

type bindFileRequest struct {
	GroupID string `json:"group_id"`
	UserID  string `json:"user_id"`
	Source  struct {
		Kind string `json:"kind"`
		Path string `json:"path,omitempty"`
		URL  string `json:"url,omitempty"`
		Data string `json:"data,omitempty"` // base64 for kind=inline
	} `json:"source"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// handleBindStart opens the bind window for (group, user).
//
// POST /api/bind {"group_id": ..., "user_id": ..., "nickname": ...}
func (s *Server) handleBindStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	var req bindStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.GroupID == "" || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "group_id and user_id are required")
		return
	}
	if req.Nickname == "" {
		req.Nickname = req.UserID
	}

	now := s.clock().In(model.CST)
	s.requests.Open(model.UserBinding{
		UserID:      req.UserID,
		DisplayName: req.Nickname,
		GroupID:     req.GroupID,
	}, now)

	appLog.Info("bind request opened", "group_id", req.GroupID, "user_id", req.UserID)
	writeJSON(w, http.StatusOK, messageResponse{
		Message: fmt.Sprintf(msgBindPrompt, s.cfg.BindWindowSec),
	})
}

// handleBindFile completes an open bind request with the transferred file.
//
// POST /api/bind/file {"group_id": ..., "user_id": ..., "source": {...}}
func (s *Server) handleBindFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	var req bindFileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.GroupID == "" || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "group_id and user_id are required")
		return
	}

	now := s.clock().In(model.CST)
	pending, ok := s.requests.Claim(req.GroupID, req.UserID, now)
	if !ok {
		writeError(w, http.StatusNotFound, msgNoRequest)
		return
	}

	src, err := feedSourceFromRequest(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	binding := model.UserBinding{
		UserID:      pending.UserID,
		DisplayName: pending.DisplayName,
		GroupID:     pending.GroupID,
	}

	if err := s.resolver.Materialize(r.Context(), src, s.store.FeedPath(binding)); err != nil {
		appLog.Error("bind: feed materialization failed", err,
			"group_id", binding.GroupID, "user_id", binding.UserID)
		writeError(w, http.StatusBadGateway, "could not fetch the file, binding failed")
		return
	}

	// Reject files that do not parse at all; a binding to garbage would
	// fail every later query anyway.
	body, err := s.store.ReadFeed(binding)
	if err == nil {
		if _, perr := ics.ParseFeed(body); perr != nil {
			writeError(w, http.StatusUnprocessableEntity, msgFeedBadParse)
			return
		}
	}

	if err := s.store.Bind(binding); err != nil {
		appLog.Error("bind: persist failed", err,
			"group_id", binding.GroupID, "user_id", binding.UserID)
		writeError(w, http.StatusInternalServerError, "failed to save binding")
		return
	}

	appLog.Info("bind completed", "group_id", binding.GroupID, "user_id", binding.UserID)
	writeJSON(w, http.StatusOK, messageResponse{
		Message: fmt.Sprintf(msgBindDone, binding.GroupID),
	})
}

func feedSourceFromRequest(req bindFileRequest) (ics.FeedSource, error) {
	switch ics.SourceKind(req.Source.Kind) {
	case ics.SourceLocalPath:
		return ics.FeedSource{Kind: ics.SourceLocalPath, Path: req.Source.Path}, nil
	case ics.SourceRemoteURL:
		return ics.FeedSource{Kind: ics.SourceRemoteURL, URL: req.Source.URL}, nil
	case ics.SourceInline:
		data, err := base64.StdEncoding.DecodeString(req.Source.Data)
		if err != nil {
			return ics.FeedSource{}, fmt.Errorf("invalid base64 in inline source: %w", err)
		}
		return ics.FeedSource{Kind: ics.SourceInline, Data: data}, nil
	default:
		return ics.FeedSource{}, fmt.Errorf("unsupported source kind %q", req.Source.Kind)
	}
}

// courseDTO is the JSON view of a single course event.
type courseDTO struct {
	Summary     string    `json:"summary"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
}

type todayResponse struct {
	Owner   string      `json:"owner"`
	Message string      `json:"message,omitempty"`
	Courses []courseDTO `json:"courses"`
}

// handleToday answers the single-user "what's left today" query.
//
// GET /api/schedule/today?group_id=...&user_id=...[&at=RFC3339]
func (s *Server) handleToday(w http.ResponseWriter, r *http.Request) {
	remaining, binding, status, errMsg := s.resolveToday(r)
	if errMsg != "" {
		writeError(w, status, errMsg)
		return
	}

	resp := todayResponse{
		Owner:   binding.DisplayName,
		Courses: make([]courseDTO, 0, len(remaining)),
	}
	for _, ev := range remaining {
		resp.Courses = append(resp.Courses, courseDTO{
			Summary:     ev.Summary,
			Description: ev.Description,
			Location:    ev.Location,
			Start:       ev.Start,
			End:         ev.End,
		})
	}
	if len(resp.Courses) == 0 {
		resp.Message = msgNoMoreToday
	}
	writeJSON(w, http.StatusOK, resp)
}

// recordDTO is the JSON view of one group status row.
type recordDTO struct {
	UserID       string     `json:"user_id"`
	DisplayName  string     `json:"display_name"`
	Status       string     `json:"status"`
	Summary      string     `json:"summary,omitempty"`
	Location     string     `json:"location,omitempty"`
	Start        *time.Time `json:"start,omitempty"`
	End          *time.Time `json:"end,omitempty"`
	RemainingMin int        `json:"remaining_min,omitempty"`
	WaitMin      int        `json:"wait_min,omitempty"`
}

type groupResponse struct {
	Message string      `json:"message,omitempty"`
	Records []recordDTO `json:"records"`
}

// handleGroup answers the group status query.
//
// GET /api/schedule/group?group_id=...[&at=RFC3339]
func (s *Server) handleGroup(w http.ResponseWriter, r *http.Request) {
	records, status, errMsg := s.resolveGroup(r)
	if errMsg != "" {
		writeError(w, status, errMsg)
		return
	}

	resp := groupResponse{Records: make([]recordDTO, 0, len(records))}
	for _, rec := range records {
		dto := recordDTO{
			UserID:      rec.UserID,
			DisplayName: rec.DisplayName,
			Status:      rec.Status.Kind.String(),
		}
		if rec.Status.Kind != model.StatusNone {
			ev := rec.Status.Event
			start, end := ev.Start, ev.End
			dto.Summary = ev.Summary
			dto.Location = ev.Location
			dto.Start = &start
			dto.End = &end
			dto.RemainingMin = int(rec.Status.Remaining / time.Minute)
			dto.WaitMin = int(rec.Status.Wait / time.Minute)
		}
		resp.Records = append(resp.Records, dto)
	}
	if len(resp.Records) == 0 {
		resp.Message = msgGroupIdle
	}
	writeJSON(w, http.StatusOK, resp)
}

// resolveToday gathers the single-user view's inputs and runs the resolver.
// On failure it returns a non-empty message plus the HTTP status to use.
func (s *Server) resolveToday(r *http.Request) ([]model.CourseEvent, model.UserBinding, int, string) {
	groupID := r.URL.Query().Get("group_id")
	userID := r.URL.Query().Get("user_id")
	if groupID == "" || userID == "" {
		return nil, model.UserBinding{}, http.StatusBadRequest, "group_id and user_id are required"
	}

	now, ok := s.requestNow(r)
	if !ok {
		return nil, model.UserBinding{}, http.StatusBadRequest, "invalid at parameter"
	}

	binding, err := s.store.BindingFor(groupID, userID)
	if err != nil {
		return nil, model.UserBinding{}, http.StatusNotFound, msgNotBound
	}

	body, err := s.store.ReadFeed(binding)
	if err != nil {
		if errors.Is(err, store.ErrFeedMissing) {
			return nil, model.UserBinding{}, http.StatusNotFound, msgFeedMissing
		}
		appLog.Error("today: feed read failed", err, "group_id", groupID, "user_id", userID)
		return nil, model.UserBinding{}, http.StatusInternalServerError, "failed to read schedule file"
	}

	events, err := ics.ParseFeed(body)
	if err != nil {
		appLog.Error("today: feed parse failed", err, "group_id", groupID, "user_id", userID)
		return nil, model.UserBinding{}, http.StatusUnprocessableEntity, msgFeedBadParse
	}

	return schedule.TodayRemaining(events, now), binding, 0, ""
}

// resolveGroup gathers the group view's inputs and runs the aggregator.
func (s *Server) resolveGroup(r *http.Request) ([]model.DisplayRecord, int, string) {
	groupID := r.URL.Query().Get("group_id")
	if groupID == "" {
		return nil, http.StatusBadRequest, "group_id is required"
	}

	now, ok := s.requestNow(r)
	if !ok {
		return nil, http.StatusBadRequest, "invalid at parameter"
	}

	bindings := s.store.GroupBindings(groupID)
	return s.agg.ResolveGroup(bindings, now), 0, ""
}

// handleTodayPNG renders the single-user view to PNG via the capture
// browser, which loads the matching /view/today page off this same server.
func (s *Server) handleTodayPNG(w http.ResponseWriter, r *http.Request) {
	s.servePNG(w, r, "/view/today")
}

// handleGroupPNG renders the group view to PNG.
func (s *Server) handleGroupPNG(w http.ResponseWriter, r *http.Request) {
	s.servePNG(w, r, "/view/group")
}

func (s *Server) servePNG(w http.ResponseWriter, r *http.Request, viewPath string) {
	q := r.URL.Query()
	viewURL := url.URL{
		Scheme:   "http",
		Host:     s.cfg.Listen,
		Path:     viewPath,
		RawQuery: q.Encode(),
	}

	png, err := capture.StatusPNG(r.Context(), capture.Options{
		URL:     viewURL.String(),
		Timeout: time.Duration(s.cfg.CaptureTimeoutSec) * time.Second,
	})
	if err != nil {
		appLog.Error("status capture failed", err, "view", viewPath)
		writeError(w, http.StatusInternalServerError, "failed to render status image")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}
