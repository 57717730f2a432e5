package server

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/MrWong99/streamstudio/internal/library"
	"github.com/MrWong99/streamstudio/internal/preview"
	"github.com/MrWong99/streamstudio/internal/studio"
	"github.com/MrWong99/streamstudio/pkg/provider/video"
)

// maxMultipartMemory is how much of a multipart upload is kept in memory
// before spilling to temporary files.
const maxMultipartMemory = 32 << 20

// ─── Request bodies ──────────────────────────────────────────────────────────

type imagePayload struct {
	// Data is base64 in JSON.
	Data     []byte `json:"data"`
	MIMEType string `json:"mime_type"`
}

func (p *imagePayload) image() (*video.Image, error) {
	if p == nil {
		return nil, nil
	}
	if len(p.Data) == 0 {
		return nil, badRequest("image.data is empty")
	}
	mt := p.MIMEType
	if mt == "" {
		mt = http.DetectContentType(p.Data)
	}
	if !strings.HasPrefix(mt, "image/") {
		return nil, badRequest("image has media type %q", mt)
	}
	return &video.Image{Data: p.Data, MIMEType: mt}, nil
}

type credentialRequest struct {
	APIKey string `json:"api_key"`
}

type clipRequest struct {
	Prompt string        `json:"prompt"`
	Title  string        `json:"title"`
	Image  *imagePayload `json:"image"`
}

type animationRequest struct {
	Script string        `json:"script"`
	Prompt string        `json:"prompt"`
	Title  string        `json:"title"`
	Image  *imagePayload `json:"image"`
}

type speechRequest struct {
	Text string `json:"text"`
}

type overlayRequest struct {
	ID string `json:"id"`
}

type sourceRequest struct {
	Source preview.Source `json:"source"`
	// ID selects a clip (static) or animation (synced). Empty keeps the
	// previously selected asset of that source.
	ID string `json:"id"`
}

type liveRequest struct {
	Live *bool `json:"live"`
}

// decodeJSON strictly decodes a single JSON object from the request body.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return err
		}
		return badRequest("decode body: %v", err)
	}
	if dec.More() {
		return badRequest("body holds more than one JSON value")
	}
	return nil
}

// readUpload returns the "file" part of a multipart form with its media type.
func readUpload(r *http.Request) (data []byte, mediaType, title string, err error) {
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, "", "", err
		}
		return nil, "", "", badRequest("parse multipart form: %v", err)
	}
	f, hdr, err := r.FormFile("file")
	if err != nil {
		return nil, "", "", badRequest("form field \"file\": %v", err)
	}
	defer f.Close()

	data, err = io.ReadAll(f)
	if err != nil {
		return nil, "", "", err
	}
	if len(data) == 0 {
		return nil, "", "", badRequest("uploaded file is empty")
	}
	mediaType = http.DetectContentType(data)
	if ct := hdr.Header.Get("Content-Type"); ct != "" && ct != "application/octet-stream" {
		if mt, _, err := mime.ParseMediaType(ct); err == nil {
			mediaType = mt
		}
	}
	title = r.FormValue("title")
	if title == "" {
		title = hdr.Filename
	}
	return data, mediaType, title, nil
}

// changed pushes a fresh snapshot to event subscribers.
func (s *Server) changed() { s.hub.Notify() }

// ─── Studio ──────────────────────────────────────────────────────────────────

func (s *Server) handleStudio(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.studio.Snapshot())
}

// ─── Credential ──────────────────────────────────────────────────────────────

func (s *Server) handleCredentialStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"selected": s.studio.Credentials().Selected()})
}

func (s *Server) handleSelectCredential(w http.ResponseWriter, r *http.Request) {
	var req credentialRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.studio.Credentials().Select(req.APIKey); err != nil {
		writeError(w, r, badRequest("api_key: %v", err))
		return
	}
	s.changed()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClearCredential(w http.ResponseWriter, _ *http.Request) {
	s.studio.Credentials().Clear()
	s.changed()
	w.WriteHeader(http.StatusNoContent)
}

// ─── Generation ──────────────────────────────────────────────────────────────

func (s *Server) handleGenerateClip(w http.ResponseWriter, r *http.Request) {
	var req clipRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	img, err := req.Image.image()
	if err != nil {
		writeError(w, r, err)
		return
	}
	entry, err := s.studio.GenerateClip(r.Context(), studio.ClipRequest{Prompt: req.Prompt, Image: img, Title: req.Title})
	s.finishCreate(w, r, entry, err)
}

func (s *Server) handleUploadClip(w http.ResponseWriter, r *http.Request) {
	data, mt, title, err := readUpload(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	entry, err := s.studio.UploadClip(r.Context(), title, data, mt)
	s.finishCreate(w, r, entry, err)
}

func (s *Server) handleGenerateAnimation(w http.ResponseWriter, r *http.Request) {
	var req animationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	img, err := req.Image.image()
	if err != nil {
		writeError(w, r, err)
		return
	}
	entry, err := s.studio.GenerateAnimation(r.Context(), studio.AnimationRequest{
		Script: req.Script,
		Image:  img,
		Prompt: req.Prompt,
		Title:  req.Title,
	})
	s.finishCreate(w, r, entry, err)
}

func (s *Server) handleGenerateSpeech(w http.ResponseWriter, r *http.Request) {
	var req speechRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	entry, err := s.studio.GenerateSpeech(r.Context(), req.Text)
	s.finishCreate(w, r, entry, err)
}

// finishCreate writes a created library entry or the error. Failures are
// pushed too: a rejected credential changes the snapshot.
func (s *Server) finishCreate(w http.ResponseWriter, r *http.Request, entry library.Entry, err error) {
	s.changed()
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/library/"+entry.ID)
	writeJSON(w, http.StatusCreated, entry)
}

// ─── Library ─────────────────────────────────────────────────────────────────

func (s *Server) handleListLibrary(w http.ResponseWriter, r *http.Request) {
	kinds := library.Kinds
	if k := r.URL.Query().Get("kind"); k != "" {
		kind := library.Kind(k)
		if !kind.Valid() {
			writeError(w, r, badRequest("unknown kind %q", k))
			return
		}
		kinds = []library.Kind{kind}
	}
	entries := []library.Entry{}
	for _, k := range kinds {
		entries = append(entries, s.studio.Library().List(k)...)
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handleRemoveEntry(w http.ResponseWriter, r *http.Request) {
	if err := s.studio.RemoveEntry(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	s.changed()
	w.WriteHeader(http.StatusNoContent)
}

// ─── Overlays ────────────────────────────────────────────────────────────────

func (s *Server) handleAddOverlay(w http.ResponseWriter, r *http.Request) {
	data, mt, title, err := readUpload(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	entry, err := s.studio.AddOverlay(r.Context(), title, data, mt)
	s.finishCreate(w, r, entry, err)
}

func (s *Server) handleSelectOverlay(w http.ResponseWriter, r *http.Request) {
	var req overlayRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	entry, err := s.studio.SelectOverlay(req.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.changed()
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleClearOverlay(w http.ResponseWriter, _ *http.Request) {
	s.studio.ClearOverlay()
	s.changed()
	w.WriteHeader(http.StatusNoContent)
}

// ─── Source and capture ──────────────────────────────────────────────────────

func (s *Server) handleSelectSource(w http.ResponseWriter, r *http.Request) {
	var req sourceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	src, err := preview.ParseSource(string(req.Source))
	if err != nil {
		writeError(w, r, badRequest("%v", err))
		return
	}

	var st preview.Status
	switch {
	case src == preview.SourceStatic && req.ID != "":
		st, err = s.studio.SelectClip(req.ID)
	case src == preview.SourceSynced && req.ID != "":
		st, err = s.studio.SelectAnimation(req.ID)
	default:
		st = s.studio.SelectSource(src)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.changed()
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleStartCapture(w http.ResponseWriter, r *http.Request) {
	stream, err := s.studio.StartCapture(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.changed()
	writeJSON(w, http.StatusCreated, map[string]any{
		"stream":  stream,
		"preview": s.studio.Preview().Status(),
	})
}

func (s *Server) handleStopCapture(w http.ResponseWriter, r *http.Request) {
	stopped := s.studio.StopCapture(r.Context())
	s.changed()
	writeJSON(w, http.StatusOK, map[string]bool{"stopped": stopped})
}

// ─── Preview ─────────────────────────────────────────────────────────────────

func (s *Server) handlePreviewStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.studio.Preview().Status())
}

// handlePreviewPlay is the user gesture: it unlocks autoplay and replays
// whatever playback was refused.
func (s *Server) handlePreviewPlay(w http.ResponseWriter, r *http.Request) {
	if s.gesture != nil {
		s.gesture()
	}
	err := s.studio.Preview().Retry()
	s.changed()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.studio.Preview().Status())
}

// ─── Live and history ────────────────────────────────────────────────────────

func (s *Server) handleSetLive(w http.ResponseWriter, r *http.Request) {
	var req liveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Live == nil {
		writeError(w, r, badRequest("live is required"))
		return
	}
	s.studio.SetLive(*req.Live)
	s.changed()
	writeJSON(w, http.StatusOK, map[string]bool{"live": s.studio.Live()})
}

func (s *Server) handleHistory(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"events": s.studio.History().Events()})
}
