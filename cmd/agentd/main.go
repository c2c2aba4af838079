package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"legalrag/internal/config"
	"legalrag/internal/domain"
	"legalrag/internal/embedding"
	"legalrag/internal/graphstore"
	"legalrag/internal/llm/gateway"
	"legalrag/internal/llm/openai"
	"legalrag/internal/memory"
	"legalrag/internal/observability"
	"legalrag/internal/orchestrator"
	"legalrag/internal/parentstore"
	"legalrag/internal/rerank"
	"legalrag/internal/retrieve"
	"legalrag/internal/session"
	"legalrag/internal/tools"
	"legalrag/internal/vectorstore"
	"legalrag/internal/verify"
)

func main() {
	observability.InitLogger("", "info")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	observability.InitLogger("", cfg.LogLevel)

	ctx := context.Background()

	shutdown, err := observability.InitOTel(ctx, "legalrag-agentd", "0.1.0")
	if err != nil {
		log.Warn().Err(err).Msg("otel init failed, continuing without observability")
		shutdown = nil
	}
	if shutdown != nil {
		defer func() { _ = shutdown(context.Background()) }()
	}

	pool, err := pgxpool.New(ctx, cfg.Postgres.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer pool.Close()

	parents, err := parentstore.New(ctx, pool)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init parent store")
	}
	graph, err := graphstore.New(ctx, pool)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init graph store")
	}
	fullText, err := retrieve.NewFullTextSearch(ctx, pool)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init full-text search")
	}
	var routes retrieve.RouteCache
	if cfg.Features.EnableGoldenRouteCache {
		routes, err = retrieve.NewRouteCache(ctx, pool)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to init golden route cache")
		}
	}
	sessions, err := session.New(ctx, pool)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init session store")
	}

	var ephemeral *session.EphemeralStore
	if cfg.Redis.Addr != "" {
		ephemeral, err = session.NewEphemeralStore(cfg.Redis.Addr)
		if err != nil {
			log.Warn().Err(err).Msg("redis unavailable, sessions will not persist across suspensions")
		}
	}
	if ephemeral != nil {
		defer ephemeral.Close()
	}

	vectors, err := vectorstore.New(qdrantDSN(cfg.Qdrant), cfg.Qdrant.Dimensions, cfg.Qdrant.Metric)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to vector store")
	}
	defer vectors.Close()

	embedder := embedding.New(cfg.Embedding)
	httpClient := observability.NewHTTPClient(nil)

	gw, err := gateway.Build(cfg, httpClient)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build LLM gateway")
	}

	retriever := &retrieve.Retriever{
		Embedder:    embedder,
		VectorStore: vectors,
		FullText:    fullText,
		Parents:     parents,
		Graph:       graph,
		Reranker:    rerank.EarlyExitReranker{Inner: rerank.NoopReranker{}, Threshold: cfg.Retrieval.RerankEarlyExitScore},
		Routes:      routes,
		Collection:  "legal_unified",
		Cfg:         cfg.Retrieval,
	}

	registry := tools.NewRegistry()
	registry.Register(tools.NewVectorSearchTool(retriever))
	if cfg.Features.EnableGraphExpansion {
		registry.Register(tools.NewGraphTraversalTool(graph))
	}
	registry.Register(tools.NewCalculatorTool())
	registry.Register(tools.NewPricingLookupTool(loadPricingCatalogue()))
	if cfg.OpenAI.APIKey != "" {
		registry.Register(tools.NewVisionTool(openai.New(cfg.OpenAI, httpClient), cfg.OpenAI.Model))
	}

	assembler := memory.NewAssembler(sessions, sessions, sessions, sessions, memory.DefaultConfig())

	var verifier *verify.Verifier
	if cfg.Features.EnableVerifier {
		verifier = verify.New(orchestrator.AsProvider(gw), cfg.LLM.Chain[0].Model)
	}

	orch := &orchestrator.Orchestrator{
		Gen:      gw,
		Tools:    registry,
		Memory:   assembler,
		Verifier: verifier,
		Sink:     sessions,
		System:   defaultSystemPrompt,
		Cfg:      cfg.Orchestrator,
		Features: cfg.Features,
	}

	srv := &server{orch: orch, parents: parents, vectors: vectors, fullText: fullText, embedder: embedder, pool: pool}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat/stream", srv.handleChatStream)
	mux.HandleFunc("/api/agentic-rag/query", srv.handleQuery)
	mux.HandleFunc("/api/ingest/document", srv.handleIngestDocument)
	mux.HandleFunc("/api/health", srv.handleHealth)
	mux.HandleFunc("/api/health/detailed", srv.handleHealthDetailed)
	mux.Handle("/api/performance/metrics", promhttp.Handler())

	addr := firstNonEmpty(os.Getenv("AGENTD_ADDR"), ":32180")
	log.Info().Str("addr", addr).Msg("agentd listening")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
}

const defaultSystemPrompt = "You are a retrieval assistant for Indonesian legal, regulatory, and business-operations questions (visas, licensing, tax, company setup, and related compliance). Answer only from the evidence your tools return, and cite the pasal/document each claim comes from."

// loadPricingCatalogue returns the built-in pricing sheet. A future
// increment should source this from an ingested Document via parentstore
// instead of a hand-maintained slice.
func loadPricingCatalogue() []tools.PriceRecord {
	return []tools.PriceRecord{
		{ServiceType: "kitas", Description: "Limited stay permit (KITAS) application", AmountIDR: 3_000_000, Unit: "per application"},
		{ServiceType: "kitap", Description: "Permanent stay permit (KITAP) application", AmountIDR: 5_500_000, Unit: "per application"},
		{ServiceType: "visa on arrival", Description: "Visa on arrival extension", AmountIDR: 500_000, Unit: "per extension"},
	}
}

// qdrantDSN folds the separately-configured API key into the URL
// vectorstore.New expects it embedded in, per that constructor's own
// "api_key" query-parameter contract.
func qdrantDSN(q config.QdrantConfig) string {
	if q.APIKey == "" {
		return q.URL
	}
	sep := "?"
	if strings.Contains(q.URL, "?") {
		sep = "&"
	}
	return q.URL + sep + "api_key=" + url.QueryEscape(q.APIKey)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

type server struct {
	orch     *orchestrator.Orchestrator
	parents  parentstore.Store
	vectors  vectorstore.Store
	fullText retrieve.FullTextSearch
	embedder embedding.Embedder
	pool     *pgxpool.Pool
}

func (s *server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req orchestrator.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	fl, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	if s.orch.Cfg.PerRequestTimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(s.orch.Cfg.PerRequestTimeoutSeconds)*time.Second)
		defer cancel()
	}

	_, err := s.orch.Run(ctx, req, func(ev orchestrator.Event) {
		b, err := json.Marshal(ev)
		if err != nil {
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", b)
		fl.Flush()
	})
	if err != nil {
		log.Error().Err(err).Msg("chat stream run error")
	}
}

func (s *server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req orchestrator.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if s.orch.Cfg.PerRequestTimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(s.orch.Cfg.PerRequestTimeoutSeconds)*time.Second)
		defer cancel()
	}

	start := time.Now()
	result, err := s.orch.Run(ctx, req, nil)
	if err != nil {
		log.Error().Err(err).Msg("query run error")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"answer":     result.Answer,
		"sources":    result.Citations,
		"route_used": result.RouteUsed,
		"steps":      result.Steps,
		"latency_ms": time.Since(start).Milliseconds(),
	})
}

// ingestRequest is a pre-chunked document: the caller has already split the
// source text into ParentChunks and, per parent, a list of child-chunk
// texts sized for retrieval. Splitting raw documents into this shape is a
// separate concern from serving the shape once it exists.
type ingestRequest struct {
	Document domain.Document `json:"document"`
	Parents  []struct {
		domain.ParentChunk
		ChildTexts []string `json:"child_texts"`
	} `json:"parents"`
	Collection string `json:"collection"`
}

func (s *server) handleIngestDocument(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	collection := firstNonEmpty(req.Collection, "legal_unified")

	ctx := r.Context()
	if err := s.parents.UpsertDocument(ctx, req.Document); err != nil {
		log.Error().Err(err).Msg("ingest: upsert document")
		http.Error(w, "failed to store document", http.StatusInternalServerError)
		return
	}

	childCount := 0
	for _, p := range req.Parents {
		if err := s.parents.UpsertParent(ctx, p.ParentChunk); err != nil {
			log.Error().Err(err).Msg("ingest: upsert parent")
			http.Error(w, "failed to store parent chunk", http.StatusInternalServerError)
			return
		}
		for i, text := range p.ChildTexts {
			vecs, err := s.embedder.Batch(ctx, []string{text})
			if err != nil {
				log.Error().Err(err).Msg("ingest: embed child chunk")
				http.Error(w, "failed to embed child chunk", http.StatusInternalServerError)
				return
			}
			uuid := fmt.Sprintf("%s#%s#%d", req.Document.ID, p.HierarchyPath, i)
			if err := s.vectors.Upsert(ctx, domain.ChildChunk{
				UUID:           uuid,
				ParentChunkIDs: []string{p.ID},
				HierarchyPath:  p.HierarchyPath,
				Text:           text,
				Embedding:      vecs[0],
				Collection:     collection,
				Tier:           "default",
			}); err != nil {
				log.Error().Err(err).Msg("ingest: upsert child chunk")
				http.Error(w, "failed to store child chunk", http.StatusInternalServerError)
				return
			}
			if err := s.fullText.Index(ctx, uuid, text, req.Document.Language); err != nil {
				log.Error().Err(err).Msg("ingest: index child chunk text")
				http.Error(w, "failed to index child chunk", http.StatusInternalServerError)
				return
			}
			childCount++
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"document_id":     req.Document.ID,
		"chunks_created":  childCount,
		"parents_created": len(req.Parents),
	})
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintln(w, "ok")
}

func (s *server) handleHealthDetailed(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := map[string]string{}
	if err := s.pool.Ping(ctx); err != nil {
		checks["postgres"] = "down: " + err.Error()
	} else {
		checks["postgres"] = "ok"
	}
	if _, err := s.vectors.Stats(ctx, "legal_unified"); err != nil {
		checks["vectorstore"] = "down: " + err.Error()
	} else {
		checks["vectorstore"] = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(checks)
}
