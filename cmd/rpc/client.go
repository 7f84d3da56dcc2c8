package rpc

import (
	"bytes"
	"io"
	"net/http"

	"github.com/canopy-network/pulse/bft"
	"github.com/canopy-network/pulse/checkpoint"
	"github.com/canopy-network/pulse/controller"
	"github.com/canopy-network/pulse/lib"
)

// Client calls the query and admin routes of a pulse RPC server
type Client struct {
	rpcURL    string
	rpcPort   string
	adminPort string
	client    http.Client
}

func NewClient(rpcURL, rpcPort, adminPort string) *Client {
	return &Client{rpcURL: rpcURL, rpcPort: rpcPort, adminPort: adminPort, client: http.Client{}}
}

func (c *Client) Version() (version *string, err lib.ErrorI) {
	version = new(string)
	err = c.get(VersionRouteName, "", version)
	return
}

func (c *Client) Transaction(tx *lib.Transaction) (hash lib.HexBytes, err lib.ErrorI) {
	p := new(txResponse)
	if err = c.postJSON(TxRouteName, tx, p); err != nil {
		return
	}
	return p.Hash, nil
}

func (c *Client) State() (p *controller.State, err lib.ErrorI) {
	p = new(controller.State)
	err = c.get(StateRouteName, "", p)
	return
}

func (c *Client) Health() (p *controller.NetworkHealth, err lib.ErrorI) {
	p = new(controller.NetworkHealth)
	err = c.get(HealthRouteName, "", p)
	return
}

func (c *Client) Round() (p *bft.RoundSummary, err lib.ErrorI) {
	p = new(bft.RoundSummary)
	err = c.get(RoundRouteName, "", p)
	return
}

func (c *Client) Validator(id string) (p *lib.Validator, err lib.ErrorI) {
	p = new(lib.Validator)
	err = c.postJSON(ValidatorRouteName, idRequest{ID: id}, p)
	return
}

func (c *Client) Validators() (p lib.Validators, err lib.ErrorI) {
	err = c.post(ValidatorsRouteName, nil, &p)
	return
}

func (c *Client) Block(height uint64) (p *lib.Commit, err lib.ErrorI) {
	p = new(lib.Commit)
	err = c.postJSON(BlockRouteName, heightRequest{Height: height}, p)
	return
}

func (c *Client) Blocks(from uint64, limit int) (p []*lib.Commit, err lib.ErrorI) {
	err = c.postJSON(BlocksRouteName, pageRequest{From: from, Limit: limit}, &p)
	return
}

func (c *Client) Checkpoint(epoch uint64) (p *lib.Checkpoint, err lib.ErrorI) {
	p = new(lib.Checkpoint)
	err = c.postJSON(CheckpointRouteName, epochRequest{Epoch: epoch}, p)
	return
}

func (c *Client) Checkpoints() (p []*lib.Checkpoint, err lib.ErrorI) {
	err = c.post(CheckpointsRouteName, nil, &p)
	return
}

// CheckpointDiff() returns the console rendering of the validator changes between two checkpoints
func (c *Client) CheckpointDiff(epoch, startEpoch uint64) (diff string, err lib.ErrorI) {
	req := epochsRequest{epochRequest: epochRequest{Epoch: epoch}, StartEpoch: startEpoch}
	bz, err := lib.MarshalJSON(req)
	if err != nil {
		return
	}
	resp, e := c.client.Post(c.url(CheckpointDiffRouteName, ""), ApplicationJSON, bytes.NewBuffer(bz))
	if e != nil {
		return "", lib.ErrPostRequest(e)
	}
	defer func() { _ = resp.Body.Close() }()
	body, e := io.ReadAll(resp.Body)
	if e != nil {
		return "", lib.ErrReadBody(e)
	}
	if resp.StatusCode != http.StatusOK {
		return "", lib.ErrHttpStatus(resp.Status, resp.StatusCode, body)
	}
	return string(body), nil
}

func (c *Client) Events(count int) (p []*lib.Event, err lib.ErrorI) {
	err = c.postJSON(EventsRouteName, countRequest{Count: count}, &p)
	return
}

func (c *Client) Forks() (p []*lib.ForkResolution, err lib.ErrorI) {
	err = c.post(ForksRouteName, nil, &p)
	return
}

func (c *Client) Evidence() (p []*lib.Evidence, err lib.ErrorI) {
	err = c.post(EvidenceRouteName, nil, &p)
	return
}

// ADMIN BELOW

// Register() registers a validator by public key; a hex private key lets it participate on the node
func (c *Client) Register(id string, stake, commission uint64, publicKey lib.HexBytes, privateKey string) (p *lib.Validator, err lib.ErrorI) {
	p = new(lib.Validator)
	req := registerRequest{ID: id, Stake: stake, Commission: commission, PublicKey: publicKey, PrivateKey: privateKey}
	err = c.postJSON(RegisterRouteName, req, p, true)
	return
}

func (c *Client) Unregister(id string) lib.ErrorI {
	return c.postJSON(UnregisterRouteName, idRequest{ID: id}, new(idRequest), true)
}

func (c *Client) Score(id string, score uint64) lib.ErrorI {
	return c.postJSON(ScoreRouteName, scoreRequest{ID: id, Score: score}, new(scoreRequest), true)
}

func (c *Client) Vote(vote *lib.Vote) lib.ErrorI {
	return c.postJSON(VoteRouteName, vote, new(lib.Vote), true)
}

func (c *Client) Proposal(block *lib.Block) lib.ErrorI {
	return c.postJSON(ProposalRouteName, block, new(txResponse), true)
}

func (c *Client) Import(commit *lib.Commit) (p *lib.ForkResolution, err lib.ErrorI) {
	err = c.postJSON(ImportRouteName, commit, &p, true)
	return
}

func (c *Client) StartNode() lib.ErrorI {
	return c.post(StartRouteName, nil, new(runningResponse), true)
}

func (c *Client) StopNode() lib.ErrorI {
	return c.post(StopRouteName, nil, new(runningResponse), true)
}

func (c *Client) Recover() (p *checkpoint.Recovery, err lib.ErrorI) {
	p = new(checkpoint.Recovery)
	err = c.post(RecoverRouteName, nil, p, true)
	return
}

func (c *Client) ResourceUsage() (p *ResourceUsage, err lib.ErrorI) {
	p = new(ResourceUsage)
	err = c.get(ResourceUsageRouteName, "", p, true)
	return
}

func (c *Client) Config() (p *lib.Config, err lib.ErrorI) {
	p = new(lib.Config)
	err = c.get(ConfigRouteName, "", p, true)
	return
}

func (c *Client) url(routeName, param string, admin ...bool) string {
	// if rpc port and admin ports are defined then it's a local RPC deployment
	if c.rpcPort != "" && c.adminPort != "" {
		if admin != nil && admin[0] {
			return c.rpcURL + colon + c.adminPort + routePaths[routeName].Path + param
		}
		return c.rpcURL + colon + c.rpcPort + routePaths[routeName].Path + param
	}
	// if rpc port is not defined then it's consider a remote RPC deployment
	return c.rpcURL + routePaths[routeName].Path + param
}

func (c *Client) postJSON(routeName string, request, ptr any, admin ...bool) lib.ErrorI {
	bz, err := lib.MarshalJSON(request)
	if err != nil {
		return err
	}
	return c.post(routeName, bz, ptr, admin...)
}

func (c *Client) post(routeName string, json []byte, ptr any, admin ...bool) lib.ErrorI {
	resp, err := c.client.Post(c.url(routeName, "", admin...), ApplicationJSON, bytes.NewBuffer(json))
	if err != nil {
		return lib.ErrPostRequest(err)
	}
	return c.unmarshal(resp, ptr)
}

func (c *Client) get(routeName, param string, ptr any, admin ...bool) lib.ErrorI {
	resp, err := c.client.Get(c.url(routeName, param, admin...))
	if err != nil {
		return lib.ErrGetRequest(err)
	}
	return c.unmarshal(resp, ptr)
}

func (c *Client) unmarshal(resp *http.Response, ptr any) lib.ErrorI {
	defer func() { _ = resp.Body.Close() }()
	bz, err := io.ReadAll(resp.Body)
	if err != nil {
		return lib.ErrReadBody(err)
	}
	if resp.StatusCode != http.StatusOK {
		return lib.ErrHttpStatus(resp.Status, resp.StatusCode, bz)
	}
	return lib.UnmarshalJSON(bz, ptr)
}
