package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/a-h/templ"

	fxerrors "github.com/conneroisu/fxlab/internal/errors"
	"github.com/conneroisu/fxlab/internal/layout"
	"github.com/conneroisu/fxlab/internal/logging"
	"github.com/conneroisu/fxlab/internal/preview"
	"github.com/conneroisu/fxlab/internal/registry"
	"github.com/conneroisu/fxlab/internal/renderer"
	"github.com/conneroisu/fxlab/internal/sandbox"
	"github.com/conneroisu/fxlab/internal/store"
)

func (s *PreviewServer) handleIndex(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/effects", http.StatusFound)
}

func (s *PreviewServer) handleGallery(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	effects := s.catalog.List()
	if query != "" {
		effects = s.catalog.Search(query)
	}

	gallery := preview.NewGallery(effects, s.config.Preview.GalleryScale)
	cards := make([]galleryCard, 0, gallery.Len())
	for _, c := range gallery.Cards() {
		cards = append(cards, galleryCard{
			ID:          c.Effect.ID,
			Title:       s.titles.Sanitize(c.Effect.Title),
			Description: s.prose.Sanitize(c.Effect.Description),
			Document:    c.Document,
			Frame:       c.Frame,
		})
	}

	templ.Handler(galleryPage(galleryView{Query: query, Cards: cards})).ServeHTTP(w, r)
}

func (s *PreviewServer) handleEditor(w http.ResponseWriter, r *http.Request) {
	effect, ok := s.effect(w, r)
	if !ok {
		return
	}

	owner := ensureClientID(w, r)
	templ.Handler(editorPage(editorView{
		ID:          effect.ID,
		Name:        effect.Title,
		Title:       s.titles.Sanitize(effect.Title),
		Description: s.prose.Sanitize(effect.Description),
		Bundle:      s.source(r.Context(), owner, effect),
		Frame:       sandbox.Frame(s.caps, 1),
		Layout:      layout.NewController().Snapshot(),
	})).ServeHTTP(w, r)
}

// handleDocument serves the editor document on its own URL. The CSP sandbox
// header gives it the same opaque origin and script-only capability as the
// srcdoc frame. With ?session= it is the live document of that session.
func (s *PreviewServer) handleDocument(w http.ResponseWriter, r *http.Request) {
	effect, ok := s.effect(w, r)
	if !ok {
		return
	}

	var doc renderer.Document
	if editor, found := s.liveEditor(r, effect); found {
		doc, _ = editor.Document()
	} else {
		doc = renderer.Synthesize(s.source(r.Context(), clientID(r), effect), renderer.VariantEditor)
	}

	w.Header().Set("Content-Security-Policy", s.caps.CSPHeader())
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write([]byte(doc.Content))
}

func (s *PreviewServer) handleDownload(w http.ResponseWriter, r *http.Request) {
	effect, ok := s.effect(w, r)
	if !ok {
		return
	}

	var doc renderer.Document
	if editor, found := s.liveEditor(r, effect); found {
		// The live bundle, including edits still inside the debounce window.
		doc, _ = editor.Export(effect.Title)
	} else {
		doc = renderer.Export(s.source(r.Context(), clientID(r), effect), effect.Title)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", renderer.ExportFilename(effect.ID)))
	_, _ = w.Write([]byte(doc.Content))
}

// effectSummary is the catalog API shape. Code is omitted from listings.
type effectSummary struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Keywords    []string `json:"keywords"`
}

func (s *PreviewServer) handleEffects(w http.ResponseWriter, r *http.Request) {
	effects := s.catalog.List()
	if q := strings.TrimSpace(r.URL.Query().Get("q")); q != "" {
		effects = s.catalog.Search(q)
	}

	out := make([]effectSummary, 0, len(effects))
	for _, e := range effects {
		keywords := e.Keywords
		if keywords == nil {
			keywords = []string{}
		}
		out = append(out, effectSummary{
			ID:          e.ID,
			Title:       e.Title,
			Description: e.Description,
			Keywords:    keywords,
		})
	}
	s.writeJSON(w, r, http.StatusOK, out)
}

func (s *PreviewServer) handleEffect(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	effect, ok := s.catalog.Get(id)
	if !ok {
		s.writeJSON(w, r, http.StatusNotFound, map[string]string{
			"error": fxerrors.ErrEffectNotFound(id).Message,
		})
		return
	}
	s.writeJSON(w, r, http.StatusOK, effect)
}

// runRequest lists the interactions of a headless run. Wait is a Go
// duration string.
type runRequest struct {
	Steps []struct {
		Selector string `json:"selector"`
		Event    string `json:"event"`
		Wait     string `json:"wait"`
	} `json:"steps"`
}

// handleRun executes the effect's current source headlessly and returns the
// console it produced. A failing step still answers 200 with the partial
// result and the error text.
func (s *PreviewServer) handleRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	effect, ok := s.catalog.Get(id)
	if !ok {
		s.writeJSON(w, r, http.StatusNotFound, map[string]string{
			"error": fxerrors.ErrEffectNotFound(id).Message,
		})
		return
	}

	var req runRequest
	if r.ContentLength != 0 {
		body := http.MaxBytesReader(w, r.Body, maxMessageSize)
		if err := json.NewDecoder(body).Decode(&req); err != nil {
			s.writeJSON(w, r, http.StatusBadRequest, map[string]string{"error": "malformed run request"})
			return
		}
	}

	steps := make([]preview.Step, 0, len(req.Steps))
	for _, st := range req.Steps {
		step := preview.Step{Selector: st.Selector, Event: st.Event}
		if st.Wait != "" {
			d, err := time.ParseDuration(st.Wait)
			if err != nil || d < 0 {
				s.writeJSON(w, r, http.StatusBadRequest, map[string]string{
					"error": fmt.Sprintf("invalid wait %q", st.Wait),
				})
				return
			}
			step.Wait = d
		}
		steps = append(steps, step)
	}

	effect.Code = s.source(r.Context(), clientID(r), effect)
	cfg := preview.SandboxConfig(s.config.Preview, s.logger.WithComponent("headless"))

	op := logging.StartOperation(s.logger.With("effect", id), "headless_run")
	start := time.Now()
	res, err := preview.RunHeadless(r.Context(), effect, cfg, steps...)
	s.metrics.RecordHeadlessRun(err, time.Since(start))

	out := struct {
		preview.Result
		Error string `json:"error,omitempty"`
	}{Result: res}
	if err != nil {
		op.EndWithError(r.Context(), err)
		out.Error = err.Error()
	} else {
		op.End(r.Context())
	}
	s.writeJSON(w, r, http.StatusOK, out)
}

func (s *PreviewServer) handleNotFound(w http.ResponseWriter, r *http.Request) {
	templ.Handler(notFoundPage(""), templ.WithStatus(http.StatusNotFound)).ServeHTTP(w, r)
}

// effect resolves the {id} path value, answering 404 itself on a miss.
func (s *PreviewServer) effect(w http.ResponseWriter, r *http.Request) (registry.Effect, bool) {
	id := r.PathValue("id")
	effect, ok := s.catalog.Get(id)
	if !ok {
		s.logger.Debug(r.Context(), "Unknown effect requested", "id", id)
		templ.Handler(notFoundPage(id), templ.WithStatus(http.StatusNotFound)).ServeHTTP(w, r)
		return registry.Effect{}, false
	}
	return effect, true
}

// liveEditor is the editor of the websocket session named by ?session=,
// when it edits effect.
func (s *PreviewServer) liveEditor(r *http.Request, effect registry.Effect) (*preview.Editor, bool) {
	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		return nil, false
	}
	sess, found := s.sessions.get(sessionID)
	if !found || sess.editor.ID() != effect.ID {
		s.logger.Debug(r.Context(), "Serving stored source",
			"reason", fxerrors.ErrSessionNotFound(sessionID).Error(), "effect", effect.ID)
		return nil, false
	}
	return sess.editor, true
}

// source is owner's stored draft of effect, or its catalog code. Requests
// without a client token always get the catalog code.
func (s *PreviewServer) source(ctx context.Context, owner string, effect registry.Effect) renderer.Bundle {
	if owner == "" {
		return effect.Code
	}
	draft, err := s.drafts.Load(ctx, store.Key(owner, effect.ID))
	switch {
	case err == nil:
		return draft.Bundle
	case fxerrors.IsNotFound(err):
	default:
		s.logger.Warn(ctx, err, "Failed to load draft", "effect", effect.ID)
	}
	return effect.Code
}

func (s *PreviewServer) writeJSON(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error(r.Context(), err, "Failed to encode response")
	}
}
