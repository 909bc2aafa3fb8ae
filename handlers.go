package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/gorilla/websocket"
	"github.com/minhancr123/movie-web-sub000/internal/hub"
	"github.com/minhancr123/movie-web-sub000/store"
)

const (
	hasSess = 1 << iota
	hasRoom
)

type sess struct {
	ID     string
	Handle string
	Name   string
}

// reqCtx is the context injected into every request.
type reqCtx struct {
	app  *App
	room *hub.Room
	sess sess
}

// jsonResp is the envelope for all JSON API responses.
type jsonResp struct {
	Error *string     `json:"error"`
	Data  interface{} `json:"data"`
}

// tpl is the envelope for all HTML template executions.
type tpl struct {
	Config *hub.Config
	Data   tplData
}

type tplData struct {
	Title     string
	Premiere  interface{}
	Premieres interface{}
	Status    string
	Auth      bool
}

type reqPremiere struct {
	MovieSlug    string `json:"movie_slug"`
	Title        string `json:"title"`
	StartTime    string `json:"start_time"`
	DurationSecs int64  `json:"duration_secs"`
}

type reqRegister struct {
	Name string `json:"name"`
}

// respPremiere is the premiere lookup payload. Status is derived from the
// wall clock at response time, never stored; server_time lets clients
// gauge their skew.
type respPremiere struct {
	store.Premiere
	Status     string    `json:"status"`
	ServerTime time.Time `json:"server_time"`
}

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool {
	return true
}}

// handleIndex renders the homepage with the premiere schedule.
func handleIndex(w http.ResponseWriter, r *http.Request) {
	var (
		ctx = r.Context().Value("ctx").(*reqCtx)
		app = ctx.app
	)

	premieres, err := app.hub.Store.ListPremieres(50)
	if err != nil {
		app.logger.Printf("error listing premieres: %v", err)
	}
	respondHTML("index", tplData{
		Title:     app.cfg.Name,
		Premieres: premieres,
	}, http.StatusOK, w, app)
}

// handlePremierePage renders the premiere viewing page.
func handlePremierePage(w http.ResponseWriter, r *http.Request) {
	var (
		ctx  = r.Context().Value("ctx").(*reqCtx)
		app  = ctx.app
		room = ctx.room
	)

	if room == nil {
		respondHTML("premiere-not-found", tplData{}, http.StatusNotFound, w, app)
		return
	}

	out := tplData{
		Title:    room.Premiere.Title,
		Premiere: room.Premiere,
		Status:   room.Premiere.Status(time.Now()),
	}
	if ctx.sess.ID != "" {
		out.Auth = true
	}

	// Disable browser caching.
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	respondHTML("premiere", out, http.StatusOK, w, app)
}

// handleCreatePremiere schedules a new premiere. This is the scheduling
// API; the sync subsystem itself only ever reads premieres.
func handleCreatePremiere(w http.ResponseWriter, r *http.Request) {
	var (
		ctx = r.Context().Value("ctx").(*reqCtx)
		app = ctx.app
	)

	var req reqPremiere
	if err := readJSONReq(r, &req); err != nil {
		respondJSON(w, nil, errors.New("error parsing JSON request"), http.StatusBadRequest)
		return
	}

	if req.MovieSlug == "" {
		respondJSON(w, nil, errors.New("movie_slug is required"), http.StatusBadRequest)
		return
	}
	if len(req.Title) < 1 || len(req.Title) > 200 {
		respondJSON(w, nil, errors.New("invalid title (1 - 200 chars)"), http.StatusBadRequest)
		return
	}
	if req.DurationSecs <= 0 {
		respondJSON(w, nil, errors.New("duration_secs should be > 0"), http.StatusBadRequest)
		return
	}
	start, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		respondJSON(w, nil, errors.New("start_time should be RFC3339"), http.StatusBadRequest)
		return
	}

	id, err := hub.GenerateGUID(12)
	if err != nil {
		app.logger.Printf("error generating premiere ID: %v", err)
		respondJSON(w, nil, errors.New("error generating premiere ID"), http.StatusInternalServerError)
		return
	}
	if ok, err := app.hub.Store.PremiereExists(id); err != nil || ok {
		app.logger.Printf("premiere ID collision or check error (exists=%v): %v", ok, err)
		respondJSON(w, nil, errors.New("error creating premiere"), http.StatusInternalServerError)
		return
	}

	p := store.Premiere{
		ID:        id,
		MovieSlug: req.MovieSlug,
		Title:     req.Title,
		StartTime: start,
		Duration:  time.Duration(req.DurationSecs) * time.Second,
		CreatedAt: time.Now(),
	}
	if err := app.hub.Store.AddPremiere(p); err != nil {
		app.logger.Printf("error creating premiere: %v", err)
		respondJSON(w, nil, errors.New("error creating premiere"), http.StatusInternalServerError)
		return
	}

	respondJSON(w, struct {
		ID string `json:"id"`
	}{p.ID}, nil, http.StatusOK)
}

// handleGetPremiere responds with a premiere and its derived status.
func handleGetPremiere(w http.ResponseWriter, r *http.Request) {
	var (
		ctx = r.Context().Value("ctx").(*reqCtx)
		app = ctx.app
	)

	p, err := app.hub.Store.GetPremiere(chi.URLParam(r, "premiereID"))
	if err == store.ErrPremiereNotFound {
		respondJSON(w, nil, errors.New("premiere not found"), http.StatusNotFound)
		return
	}
	if err != nil {
		app.logger.Printf("error fetching premiere: %v", err)
		respondJSON(w, nil, errors.New("error fetching premiere"), http.StatusInternalServerError)
		return
	}

	now := time.Now()
	respondJSON(w, respPremiere{
		Premiere:   p,
		Status:     p.Status(now),
		ServerTime: now,
	}, nil, http.StatusOK)
}

// handleRegisterViewer issues an anonymous viewer session for a premiere
// and sets it as a cookie. Identity here is just a claimed display name;
// real authentication lives outside this service.
func handleRegisterViewer(w http.ResponseWriter, r *http.Request) {
	var (
		ctx  = r.Context().Value("ctx").(*reqCtx)
		app  = ctx.app
		room = ctx.room
	)

	if room == nil {
		respondJSON(w, nil, errors.New("premiere is invalid"), http.StatusBadRequest)
		return
	}

	var req reqRegister
	if err := readJSONReq(r, &req); err != nil {
		respondJSON(w, nil, errors.New("error parsing JSON request"), http.StatusBadRequest)
		return
	}
	if len(req.Name) < 1 || len(req.Name) > 40 {
		respondJSON(w, nil, errors.New("invalid name (1 - 40 chars)"), http.StatusBadRequest)
		return
	}

	sessID, err := hub.GenerateGUID(32)
	if err != nil {
		app.logger.Printf("error generating session ID: %v", err)
		respondJSON(w, nil, errors.New("error generating session ID"), http.StatusInternalServerError)
		return
	}
	handle, err := hub.GenerateGUID(12)
	if err != nil {
		app.logger.Printf("error generating viewer handle: %v", err)
		respondJSON(w, nil, errors.New("error generating viewer handle"), http.StatusInternalServerError)
		return
	}

	if err := app.hub.Store.AddSession(sessID, handle, req.Name, room.ID, app.cfg.SessionTTL); err != nil {
		app.logger.Printf("error creating session: %v", err)
		respondJSON(w, nil, errors.New("error creating session"), http.StatusInternalServerError)
		return
	}

	// Set the session cookie.
	ck := &http.Cookie{Name: app.cfg.SessionCookie, Value: sessID, Path: "/"}
	http.SetCookie(w, ck)
	respondJSON(w, struct {
		Handle string `json:"handle"`
		Name   string `json:"name"`
	}{handle, req.Name}, nil, http.StatusOK)
}

// handleDeregisterViewer discards the viewer's session and clears the
// cookie. The room membership, if any, lapses when the WS drops.
func handleDeregisterViewer(w http.ResponseWriter, r *http.Request) {
	var (
		ctx  = r.Context().Value("ctx").(*reqCtx)
		app  = ctx.app
		room = ctx.room
	)

	if room == nil {
		respondJSON(w, nil, errors.New("premiere is invalid"), http.StatusBadRequest)
		return
	}
	if ctx.sess.ID == "" {
		respondJSON(w, nil, errors.New("invalid session"), http.StatusForbidden)
		return
	}

	if err := app.hub.Store.RemoveSession(ctx.sess.ID, room.ID); err != nil {
		app.logger.Printf("error removing session: %v", err)
		respondJSON(w, nil, errors.New("error removing session"), http.StatusInternalServerError)
		return
	}

	ck := &http.Cookie{Name: app.cfg.SessionCookie, Value: "", MaxAge: -1, Path: "/"}
	http.SetCookie(w, ck)
	respondJSON(w, true, nil, http.StatusOK)
}

// handleWS handles incoming connections.
func handleWS(w http.ResponseWriter, r *http.Request) {
	var (
		ctx  = r.Context().Value("ctx").(*reqCtx)
		app  = ctx.app
		room = ctx.room
	)

	if room == nil {
		respondJSON(w, nil, errors.New("premiere is invalid"), http.StatusBadRequest)
		return
	}
	if ctx.sess.ID == "" {
		respondJSON(w, nil, errors.New("invalid session"), http.StatusForbidden)
		return
	}

	// Create the WS connection.
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		app.logger.Printf("Websocket upgrade failed: %s: %v", r.RemoteAddr, err)
		return
	}

	// Register the viewer in the room.
	room.AddViewer(ctx.sess.Handle, ctx.sess.Name, ws)
}

// respondJSON responds to an HTTP request with a generic payload or an error.
func respondJSON(w http.ResponseWriter, data interface{}, err error, statusCode int) {
	if statusCode == 0 {
		statusCode = http.StatusOK
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)

	out := jsonResp{Data: data}
	if err != nil {
		e := err.Error()
		out.Error = &e
	}
	b, err := json.Marshal(out)
	if err != nil {
		logger.Printf("error marshalling JSON response: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Write(b)
}

// respondHTML responds to an HTTP request with the HTML output of a given template.
func respondHTML(tplName string, data tplData, statusCode int, w http.ResponseWriter, app *App) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if statusCode > 0 {
		w.WriteHeader(statusCode)
	}

	err := app.tpl.ExecuteTemplate(w, tplName, tpl{
		Config: app.cfg,
		Data:   data,
	})
	if err != nil {
		app.logger.Printf("error rendering template %s: %s", tplName, err)
		w.Write([]byte("error rendering template"))
	}
}

// wrap is a middleware that handles session and premiere checks for
// various HTTP handlers. It attaches the app, room, and session contexts
// to handlers.
func wrap(next http.HandlerFunc, app *App, opts uint8) http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var (
			req        = &reqCtx{app: app}
			premiereID = chi.URLParam(r, "premiereID")
		)

		// Check if the request carries a viewer session.
		if opts&hasSess != 0 {
			ck, _ := r.Cookie(app.cfg.SessionCookie)
			if ck != nil && ck.Value != "" {
				s, err := app.hub.Store.GetSession(ck.Value, premiereID)
				if err != nil {
					app.logger.Printf("error checking session: %v", err)
					respondJSON(w, nil, errors.New("error checking session"), http.StatusForbidden)
					return
				}
				req.sess = sess{
					ID:     s.ID,
					Handle: s.Handle,
					Name:   s.Name,
				}
			}
		}

		// Check if the premiere is valid and activate its room.
		if opts&hasRoom != 0 {
			// If the premiere's not found, req.room will be nil in the
			// target handler. It's the handler's responsibility to throw
			// an error, API or HTML response.
			room, err := app.hub.ActivateRoom(premiereID)
			if err == nil {
				req.room = room
			}
		}

		// Attach the request context.
		ctx := context.WithValue(r.Context(), "ctx", req)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// readJSONReq reads the JSON body from a request and unmarshals it to the given target.
func readJSONReq(r *http.Request, o interface{}) error {
	defer r.Body.Close()
	b, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, o)
}
