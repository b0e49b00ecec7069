package engine

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/veyra/stronghold/internal/cache"
	"github.com/veyra/stronghold/internal/store"
	"github.com/veyra/stronghold/internal/types"
)

type testEnv struct {
	store      *store.Store
	backend    *cache.Memory
	cache      *cache.Cache
	campaign   types.CampaignID
	kingdom    types.EntityID
	settlement types.EntityID
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := sqlx.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	db.SetMaxOpenConns(1)
	if err := store.MigrateUp(db); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	st, err := store.New(db)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	campaign := types.NewCampaignID()
	if err := st.CreateCampaign(ctx, campaign, "test campaign"); err != nil {
		t.Fatalf("failed to seed campaign: %v", err)
	}
	parent := types.EntityID(campaign)
	kingdom := &types.EntityRecord{
		ID: types.NewEntityID(), Kind: types.KindKingdom, Name: "Aldoria", Level: 1, ParentID: &parent,
	}
	if err := st.InsertEntity(ctx, kingdom); err != nil {
		t.Fatalf("failed to seed kingdom: %v", err)
	}
	settlement := &types.EntityRecord{
		ID:       types.NewEntityID(),
		Kind:     types.KindSettlement,
		Name:     "Rivermouth",
		Level:    3,
		ParentID: &kingdom.ID,
		Data: map[string]any{
			"population": float64(8000),
			"has_port":   true,
		},
	}
	if err := st.InsertEntity(ctx, settlement); err != nil {
		t.Fatalf("failed to seed settlement: %v", err)
	}

	backend := cache.NewMemory()
	return &testEnv{
		store:      st,
		backend:    backend,
		cache:      cache.New(backend, time.Minute, slog.New(slog.NewTextHandler(io.Discard, nil))),
		campaign:   campaign,
		kingdom:    kingdom.ID,
		settlement: settlement.ID,
	}
}

func (env *testEnv) newEngine(t *testing.T, worker *WorkerClient) *Engine {
	t.Helper()
	return New(env.store, env.cache, worker, time.Minute, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func (env *testEnv) seedCondition(t *testing.T, entityID types.EntityID, field, expression string, priority int) *types.Condition {
	t.Helper()
	c := &types.Condition{
		ID:         types.NewConditionID(),
		EntityType: types.KindSettlement,
		EntityID:   &entityID,
		CampaignID: &env.campaign,
		BranchID:   types.DefaultBranch,
		Field:      field,
		Expression: types.Expression(expression),
		Priority:   priority,
		IsActive:   true,
	}
	if err := env.store.InsertCondition(context.Background(), c); err != nil {
		t.Fatalf("failed to seed condition: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	return c
}

func (env *testEnv) seedVariable(t *testing.T, scopeID types.EntityID, key, value, formula string) {
	t.Helper()
	v := &types.Variable{
		ID:         types.NewVariableID(),
		Scope:      types.ScopeSettlement,
		ScopeID:    &scopeID,
		CampaignID: &env.campaign,
		Key:        key,
		Type:       "any",
		IsActive:   true,
	}
	if value != "" {
		v.Value = types.Expression(value)
	}
	if formula != "" {
		v.Formula = types.Expression(formula)
	}
	if err := env.store.InsertVariable(context.Background(), v); err != nil {
		t.Fatalf("failed to seed variable: %v", err)
	}
}

const tradeHubExpr = `{"and": [{">": [{"var": "population"}, 5000]}, {"==": [{"var": "has_port"}, true]}]}`

func TestComputedFields_WinnerFalseAndFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	eng := env.newEngine(t, nil)

	// Losing low-priority rule would say false; the winner says true.
	env.seedCondition(t, env.settlement, "is_trade_hub", `{"==": [1, 2]}`, 1)
	env.seedCondition(t, env.settlement, "is_trade_hub", tradeHubExpr, 10)
	// A genuinely false result stays in the map.
	env.seedCondition(t, env.settlement, "is_capital", `{">": [{"var": "level"}, 10]}`, 5)
	// A failing evaluation omits its field.
	env.seedCondition(t, env.settlement, "broken", `{"/": [1, 0]}`, 5)

	fields, err := eng.ComputedFields(ctx, env.campaign, types.KindSettlement, env.settlement, types.DefaultBranch)
	if err != nil {
		t.Fatalf("computed fields failed: %v", err)
	}

	if fields["is_trade_hub"] != true {
		t.Errorf("is_trade_hub = %v, want true", fields["is_trade_hub"])
	}
	got, present := fields["is_capital"]
	if !present || got != false {
		t.Errorf("is_capital = %v (present %t), want explicit false", got, present)
	}
	if _, present := fields["broken"]; present {
		t.Error("failed evaluation should omit its field, not store a value")
	}
}

func TestComputedFields_ReadThroughCache(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	eng := env.newEngine(t, nil)

	cond := env.seedCondition(t, env.settlement, "is_trade_hub", tradeHubExpr, 10)

	first, err := eng.ComputedFields(ctx, env.campaign, types.KindSettlement, env.settlement, types.DefaultBranch)
	if err != nil {
		t.Fatalf("first read failed: %v", err)
	}
	if first["is_trade_hub"] != true {
		t.Fatalf("is_trade_hub = %v, want true", first["is_trade_hub"])
	}

	// Mutate the condition behind the cache's back: the cached map keeps
	// serving until the entry is invalidated.
	cond.Expression = types.Expression(`{"==": [1, 2]}`)
	if err := env.store.UpdateCondition(ctx, cond); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	second, err := eng.ComputedFields(ctx, env.campaign, types.KindSettlement, env.settlement, types.DefaultBranch)
	if err != nil {
		t.Fatalf("second read failed: %v", err)
	}
	if second["is_trade_hub"] != true {
		t.Errorf("cached is_trade_hub = %v, want stale true", second["is_trade_hub"])
	}

	env.cache.InvalidateCampaignComputedFields(ctx, env.campaign)

	third, err := eng.ComputedFields(ctx, env.campaign, types.KindSettlement, env.settlement, types.DefaultBranch)
	if err != nil {
		t.Fatalf("third read failed: %v", err)
	}
	if third["is_trade_hub"] != false {
		t.Errorf("recomputed is_trade_hub = %v, want false", third["is_trade_hub"])
	}
}

func TestComputedFields_VariablesUnderNamespace(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	eng := env.newEngine(t, nil)

	env.seedVariable(t, env.settlement, "tax_rate", `0.1`, "")
	env.seedVariable(t, env.settlement, "projected_income", "", `{"*": [{"var": "population"}, {"var": "var.tax_rate"}]}`)
	env.seedCondition(t, env.settlement, "is_wealthy",
		`{">": [{"var": "var.projected_income"}, 500]}`, 10)

	fields, err := eng.ComputedFields(ctx, env.campaign, types.KindSettlement, env.settlement, types.DefaultBranch)
	if err != nil {
		t.Fatalf("computed fields failed: %v", err)
	}
	if fields["is_wealthy"] != true {
		t.Errorf("is_wealthy = %v, want true (8000 * 0.1 > 500)", fields["is_wealthy"])
	}
}

func TestBuildContextWithVariables_SilentDegrade(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	builder := NewContextBuilder(env.store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	entity := map[string]any{"population": float64(8000)}

	tests := []struct {
		name    string
		scope   types.Scope
		scopeID *types.EntityID
	}{
		{"empty scope", "", nil},
		{"scope without id", types.ScopeSettlement, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := builder.BuildContextWithVariables(ctx, entity, tt.scope, tt.scopeID)
			if got["population"] != float64(8000) {
				t.Errorf("entity data missing: %v", got)
			}
			if _, present := got[types.VarNamespace]; present {
				t.Error("degraded context should not carry the variable namespace")
			}
		})
	}

	env.seedVariable(t, env.settlement, "tax_rate", `0.1`, "")
	got := builder.BuildContextWithVariables(ctx, entity, types.ScopeSettlement, &env.settlement)
	vars, ok := got[types.VarNamespace].(map[string]any)
	if !ok || vars["tax_rate"] != float64(0.1) {
		t.Errorf("variables = %v, want tax_rate 0.1 under %q", got[types.VarNamespace], types.VarNamespace)
	}
}

// workerStub mirrors the evaluation worker's wire protocol.
func workerStub(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/v1/evaluate", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Items []EvalRequest `json:"items"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"results": EvaluateLocal(req.Items)})
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func TestComputedFields_WorkerMatchesLocal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.seedCondition(t, env.settlement, "is_trade_hub", tradeHubExpr, 10)
	env.seedCondition(t, env.settlement, "is_capital", `{">": [{"var": "level"}, 10]}`, 5)

	local, err := env.newEngine(t, nil).ComputedFields(ctx, env.campaign, types.KindSettlement, env.settlement, types.DefaultBranch)
	if err != nil {
		t.Fatalf("local evaluation failed: %v", err)
	}

	env.cache.InvalidateCampaignComputedFields(ctx, env.campaign)
	ts := workerStub(t)
	client := NewWorkerClient(ts.URL, slog.New(slog.NewTextHandler(io.Discard, nil)))
	remote, err := env.newEngine(t, client).ComputedFields(ctx, env.campaign, types.KindSettlement, env.settlement, types.DefaultBranch)
	if err != nil {
		t.Fatalf("remote evaluation failed: %v", err)
	}

	if len(remote) != len(local) {
		t.Fatalf("remote has %d fields, local %d", len(remote), len(local))
	}
	for k, v := range local {
		if remote[k] != v {
			t.Errorf("field %s: remote %v, local %v", k, remote[k], v)
		}
	}
}

func TestComputedFields_DeadWorkerFallsBack(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.seedCondition(t, env.settlement, "is_trade_hub", tradeHubExpr, 10)

	client := NewWorkerClient("http://127.0.0.1:1", slog.New(slog.NewTextHandler(io.Discard, nil)))
	fields, err := env.newEngine(t, client).ComputedFields(ctx, env.campaign, types.KindSettlement, env.settlement, types.DefaultBranch)
	if err != nil {
		t.Fatalf("fallback evaluation failed: %v", err)
	}
	if fields["is_trade_hub"] != true {
		t.Errorf("is_trade_hub = %v, want true via local fallback", fields["is_trade_hub"])
	}
}
