package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"strconv"

	"github.com/docopt/docopt-go"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/r3labs/sse/v2"

	"github.com/suhitaghosh10/oeplatform"
	"github.com/suhitaghosh10/oeplatform/memory"
	"github.com/suhitaghosh10/oeplatform/rest"
	"github.com/suhitaghosh10/oeplatform/sqlstore"
)

const serveVersion = "0.1.0"

const usage = `Dataedit dev server.

Serves the dataedit row API backed by an in-memory table store or a
sqlite database. Accepted change-sets are announced on the /events
stream; prometheus metrics are exposed on /metrics.

Usage:
    serve [--addr=<addr>] [--db=<path>] [--seed]
    serve -h | --help
    serve --version

Options:
    --addr=<addr>  Listen address [default: :8080].
    --db=<path>    Back tables with a sqlite database instead of memory.
    --seed         Load the demo table model_draft.power_plants.
    -h --help      Show this screen.
    --version      Show version.`

var (
	fetchTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dataedit_fetch_total",
		Help: "Row pages served.",
	})
	submitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dataedit_submit_total",
		Help: "Change-set submissions by outcome.",
	}, []string{"status"})
)

type server struct {
	src    oeplatform.DataSource
	events *sse.Server
}

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], serveVersion)
	if err != nil {
		log.Fatal(err)
	}
	addr, _ := opts.String("--addr")
	dbPath, _ := opts.String("--db")
	seed, _ := opts.Bool("--seed")

	src, err := openSource(dbPath, seed)
	if err != nil {
		log.Fatal(err)
	}

	events := sse.New()
	events.CreateStream("changes")

	s := &server{src: src, events: events}

	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(cors.Handler(cors.Options{
		AllowOriginFunc:  func(r *http.Request, origin string) bool { return true },
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", rest.CSRFHeader},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	}))

	router.Get("/api/v0/session", s.getSession)
	router.Route("/api/v0/schema/{schema}/tables/{table}", func(r chi.Router) {
		r.Get("/rows", s.getRows)
		r.Post("/rows/changes", s.postChanges)
	})
	router.Get("/events", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Access-Control-Allow-Origin", "*")
		events.ServeHTTP(w, r)
	})
	router.Handle("/metrics", promhttp.Handler())

	log.Printf("dataedit dev server listening on %s", addr)
	log.Fatal(http.ListenAndServe(addr, router))
}

func (s *server) getSession(w http.ResponseWriter, r *http.Request) {
	token := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:  rest.CSRFCookie,
		Value: token,
		Path:  "/",
	})
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (s *server) getRows(w http.ResponseWriter, r *http.Request) {
	ref := oeplatform.TableRef{
		Schema: chi.URLParam(r, "schema"),
		Table:  chi.URLParam(r, "table"),
	}
	page := oeplatform.Page{
		Offset: intQuery(r, "offset", 0),
		Limit:  intQuery(r, "limit", oeplatform.DefaultPageSize),
	}

	result, err := s.src.Fetch(r.Context(), ref, page)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	fetchTotal.Inc()
	writeJSON(w, http.StatusOK, result)
}

func (s *server) postChanges(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(rest.CSRFCookie)
	token := r.Header.Get(rest.CSRFHeader)
	if err != nil || token == "" || token != cookie.Value {
		writeJSON(w, http.StatusForbidden, map[string]string{"message": "invalid authenticity token"})
		return
	}

	ref := oeplatform.TableRef{
		Schema: chi.URLParam(r, "schema"),
		Table:  chi.URLParam(r, "table"),
	}
	var cs oeplatform.ChangeSet
	if err := json.NewDecoder(r.Body).Decode(&cs); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := s.src.Save(r.Context(), ref, cs)
	if err != nil {
		submitTotal.WithLabelValues("error").Inc()
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if result.OK() {
		submitTotal.WithLabelValues("applied").Inc()
		payload, _ := json.Marshal(ref)
		s.events.Publish("changes", &sse.Event{Data: payload})
	} else {
		// Rejections travel per row inside the result, not as a
		// transport error.
		submitTotal.WithLabelValues("rejected").Inc()
	}
	writeJSON(w, http.StatusOK, result)
}

func openSource(dbPath string, seed bool) (oeplatform.DataSource, error) {
	demoRef := oeplatform.TableRef{Schema: "model_draft", Table: "power_plants"}
	twinRef := oeplatform.UncheckedRef(demoRef)

	if dbPath == "" {
		backend := memory.New()
		if seed {
			backend.Seed(demoRef, demoRows)
			backend.Seed(twinRef, demoRows[:1])
		}
		return backend, nil
	}

	store, err := sqlstore.OpenSQLite(dbPath)
	if err != nil {
		return nil, err
	}
	if seed {
		if err := seedStore(store, demoRef, twinRef); err != nil {
			return nil, err
		}
	}
	return store, nil
}

var demoRows = []oeplatform.RowData{
	{Key: "1", Values: map[string]any{"name": "Windpark Eichsfeld", "energy_source": "wind", "capacity_mw": "21.5"}},
	{Key: "2", Values: map[string]any{"name": "Solarfeld Alzenau", "energy_source": "solar", "capacity_mw": "9.8"}},
	{Key: "3", Values: map[string]any{"name": "Pumpspeicher Goldisthal", "energy_source": "hydro", "capacity_mw": "1060"}},
}

func seedStore(store *sqlstore.Store, refs ...oeplatform.TableRef) error {
	ctx := context.Background()
	columns := []string{"name", "energy_source", "capacity_mw"}
	for i, ref := range refs {
		if err := store.EnsureTable(ctx, ref, columns); err != nil {
			return err
		}
		rows := demoRows
		if i > 0 {
			rows = demoRows[:1]
		}
		var cs oeplatform.ChangeSet
		for _, row := range rows {
			cs.Creates = append(cs.Creates, oeplatform.RowCreate{Key: "seed:" + row.Key, Values: row.Values})
		}
		if _, err := store.Save(ctx, ref, cs); err != nil {
			return err
		}
	}
	return nil
}

func intQuery(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"message": err.Error()})
}
