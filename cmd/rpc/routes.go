package rpc

import (
	"net/http"

	"github.com/julienschmidt/httprouter"
)

// pulse RPC Paths
const (
	VersionRoutePath        = "/v1/"
	TxRoutePath             = "/v1/tx"
	StateRoutePath          = "/v1/query/state"
	HealthRoutePath         = "/v1/query/health"
	RoundRoutePath          = "/v1/query/round"
	ValidatorRoutePath      = "/v1/query/validator"
	ValidatorsRoutePath     = "/v1/query/validators"
	BlockRoutePath          = "/v1/query/block"
	BlocksRoutePath         = "/v1/query/blocks"
	CheckpointRoutePath     = "/v1/query/checkpoint"
	CheckpointsRoutePath    = "/v1/query/checkpoints"
	CheckpointDiffRoutePath = "/v1/query/checkpoint-diff"
	EventsRoutePath         = "/v1/query/events"
	ForksRoutePath          = "/v1/query/forks"
	EvidenceRoutePath       = "/v1/query/evidence"
	// admin
	RegisterRoutePath      = "/v1/admin/register"
	UnregisterRoutePath    = "/v1/admin/unregister"
	ScoreRoutePath         = "/v1/admin/score"
	VoteRoutePath          = "/v1/admin/vote"
	ProposalRoutePath      = "/v1/admin/proposal"
	ImportRoutePath        = "/v1/admin/import"
	StartRoutePath         = "/v1/admin/start"
	StopRoutePath          = "/v1/admin/stop"
	RecoverRoutePath       = "/v1/admin/recover"
	ResourceUsageRoutePath = "/v1/admin/resource-usage"
	ConfigRoutePath        = "/v1/admin/config"
	LogsRoutePath          = "/v1/admin/log"
)

const (
	VersionRouteName        = "version"
	TxRouteName             = "tx"
	StateRouteName          = "state"
	HealthRouteName         = "health"
	RoundRouteName          = "round"
	ValidatorRouteName      = "validator"
	ValidatorsRouteName     = "validators"
	BlockRouteName          = "block"
	BlocksRouteName         = "blocks"
	CheckpointRouteName     = "checkpoint"
	CheckpointsRouteName    = "checkpoints"
	CheckpointDiffRouteName = "checkpoint-diff"
	CheckpointDiffGetName   = "checkpoint-diff-get"
	EventsRouteName         = "events"
	ForksRouteName          = "forks"
	EvidenceRouteName       = "evidence"
	// admin
	RegisterRouteName      = "register"
	UnregisterRouteName    = "unregister"
	ScoreRouteName         = "score"
	VoteRouteName          = "vote"
	ProposalRouteName      = "proposal"
	ImportRouteName        = "import"
	StartRouteName         = "start"
	StopRouteName          = "stop"
	RecoverRouteName       = "recover"
	ResourceUsageRouteName = "resource-usage"
	ConfigRouteName        = "config"
	LogsRouteName          = "logs"
)

// routes contains the method and path for a pulse RPC route
type routes map[string]struct {
	Method string
	Path   string
}

// routePaths is a mapping from route names to their corresponding HTTP methods and paths.
var routePaths = routes{
	VersionRouteName:        {Method: http.MethodGet, Path: VersionRoutePath},
	TxRouteName:             {Method: http.MethodPost, Path: TxRoutePath},
	StateRouteName:          {Method: http.MethodGet, Path: StateRoutePath},
	HealthRouteName:         {Method: http.MethodGet, Path: HealthRoutePath},
	RoundRouteName:          {Method: http.MethodGet, Path: RoundRoutePath},
	ValidatorRouteName:      {Method: http.MethodPost, Path: ValidatorRoutePath},
	ValidatorsRouteName:     {Method: http.MethodPost, Path: ValidatorsRoutePath},
	BlockRouteName:          {Method: http.MethodPost, Path: BlockRoutePath},
	BlocksRouteName:         {Method: http.MethodPost, Path: BlocksRoutePath},
	CheckpointRouteName:     {Method: http.MethodPost, Path: CheckpointRoutePath},
	CheckpointsRouteName:    {Method: http.MethodPost, Path: CheckpointsRoutePath},
	CheckpointDiffRouteName: {Method: http.MethodPost, Path: CheckpointDiffRoutePath},
	CheckpointDiffGetName:   {Method: http.MethodGet, Path: CheckpointDiffRoutePath},
	EventsRouteName:         {Method: http.MethodPost, Path: EventsRoutePath},
	ForksRouteName:          {Method: http.MethodPost, Path: ForksRoutePath},
	EvidenceRouteName:       {Method: http.MethodPost, Path: EvidenceRoutePath},
	RegisterRouteName:       {Method: http.MethodPost, Path: RegisterRoutePath},
	UnregisterRouteName:     {Method: http.MethodPost, Path: UnregisterRoutePath},
	ScoreRouteName:          {Method: http.MethodPost, Path: ScoreRoutePath},
	VoteRouteName:           {Method: http.MethodPost, Path: VoteRoutePath},
	ProposalRouteName:       {Method: http.MethodPost, Path: ProposalRoutePath},
	ImportRouteName:         {Method: http.MethodPost, Path: ImportRoutePath},
	StartRouteName:          {Method: http.MethodPost, Path: StartRoutePath},
	StopRouteName:           {Method: http.MethodPost, Path: StopRoutePath},
	RecoverRouteName:        {Method: http.MethodPost, Path: RecoverRoutePath},
	ResourceUsageRouteName:  {Method: http.MethodGet, Path: ResourceUsageRoutePath},
	ConfigRouteName:         {Method: http.MethodGet, Path: ConfigRoutePath},
	LogsRouteName:           {Method: http.MethodGet, Path: LogsRoutePath},
}

// httpRouteHandlers is a custom type that maps strings to httprouter handle functions
type httpRouteHandlers map[string]httprouter.Handle

// createRouter initializes and returns a new HTTP router with predefined route handlers.
func createRouter(s *Server) *httprouter.Router {
	var r = httpRouteHandlers{
		VersionRouteName:        s.Version,
		TxRouteName:             s.Transaction,
		StateRouteName:          s.State,
		HealthRouteName:         s.Health,
		RoundRouteName:          s.Round,
		ValidatorRouteName:      s.Validator,
		ValidatorsRouteName:     s.Validators,
		BlockRouteName:          s.Block,
		BlocksRouteName:         s.Blocks,
		CheckpointRouteName:     s.Checkpoint,
		CheckpointsRouteName:    s.Checkpoints,
		CheckpointDiffRouteName: s.CheckpointDiff,
		CheckpointDiffGetName:   s.CheckpointDiff,
		EventsRouteName:         s.Events,
		ForksRouteName:          s.Forks,
		EvidenceRouteName:       s.Evidence,
	}
	return s.newRouter(r)
}

// createAdminRouter initializes and returns a new HTTP router with the admin route handlers.
func createAdminRouter(s *Server) *httprouter.Router {
	var r = httpRouteHandlers{
		RegisterRouteName:      s.Register,
		UnregisterRouteName:    s.Unregister,
		ScoreRouteName:         s.Score,
		VoteRouteName:          s.Vote,
		ProposalRouteName:      s.Proposal,
		ImportRouteName:        s.Import,
		StartRouteName:         s.StartNode,
		StopRouteName:          s.StopNode,
		RecoverRouteName:       s.Recover,
		ResourceUsageRouteName: s.ResourceUsage,
		ConfigRouteName:        s.Config,
		LogsRouteName:          logsHandler(s),
	}
	return s.newRouter(r)
}

// newRouter() registers every handler under its method and path
func (s *Server) newRouter(r httpRouteHandlers) *httprouter.Router {
	// Initialize a new router using the httprouter package.
	router := httprouter.New()
	for name, handler := range r {
		// Retrieve the path configuration for the current route name.
		path := routePaths[name]
		// Add the handler for the specific path and HTTP method to the router.
		router.Handle(path.Method, path.Path, logHandler{path.Path, handler, s.logger}.Handle)
	}
	return router
}
