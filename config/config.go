package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ecmwf/multio/action"
	"github.com/ecmwf/multio/domain"
	"github.com/ecmwf/multio/internal/xerrors"
	"github.com/ecmwf/multio/message"
	"github.com/ecmwf/multio/plan"
	"github.com/ecmwf/multio/stats"
)

// Role distinguishes client-side from server-side processes (spec §6
// "server (role-specific block)").
type Role string

const (
	RoleServer Role = "server"
	RoleClient Role = "client"
)

// TransportKind selects among the three backends from spec §4.1.
type TransportKind string

const (
	TransportMPI    TransportKind = "mpi"
	TransportTCP    TransportKind = "tcp"
	TransportThread TransportKind = "thread"
)

// HostPorts is one TCP peer's address (spec §6 "servers/clients arrays of
// {host, ports[]}").
type HostPorts struct {
	Host  string `yaml:"host"`
	Ports []int  `yaml:"ports"`
}

// TransportConfig is the "transport selection" block from spec §6.
type TransportConfig struct {
	Kind        TransportKind `yaml:"transport"`
	Group       string        `yaml:"group"`
	ClientGroup string        `yaml:"client-group"`
	ServerGroup string        `yaml:"server-group"`
	Servers     []HostPorts   `yaml:"servers"`
	Clients     []HostPorts   `yaml:"clients"`
}

// ServerConfig is the top-level "server" block.
type ServerConfig struct {
	Role      Role            `yaml:"role"`
	Transport TransportConfig `yaml:"transport"`
	Expected  int             `yaml:"expected-clients"`
}

// ActionConfig is one pipeline stage: a "type" discriminator plus
// type-specific fields, decoded lazily via a raw yaml.Node the way the
// teacher's own cluster-config decoder defers per-backend fields (spec §6
// "Actions are objects with type plus type-specific fields").
type ActionConfig struct {
	Type string `yaml:"type"`
	Node yaml.Node
}

func (a *ActionConfig) UnmarshalYAML(node *yaml.Node) error {
	// decode "type" as a raw node so an unquoted `Null` keeps its text
	// instead of resolving to YAML null
	var head struct {
		Type yaml.Node `yaml:"type"`
	}
	if err := node.Decode(&head); err != nil {
		return err
	}
	a.Type = head.Type.Value
	a.Node = *node
	return nil
}

// PlanConfig is one entry of the top-level "plans" list (spec §6 "A plan:
// {name, actions: [...]}").
type PlanConfig struct {
	Name    string         `yaml:"name"`
	Actions []ActionConfig `yaml:"actions"`
}

// Config is the top-level YAML document (spec §6).
type Config struct {
	Server ServerConfig `yaml:"server"`
	Plans  []PlanConfig `yaml:"plans"`
}

// Load reads and parses the YAML configuration document at path (spec §6),
// using gopkg.in/yaml.v3 — this module never hand-rolls a YAML parser
// (SPEC_FULL §2).
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.NewConfigurationError("reading config %q: %v", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, xerrors.NewConfigurationError("parsing config %q: %v", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate enforces the structural requirements spec §6/§7 describe as
// fatal ConfigurationErrors at startup.
func (c *Config) Validate() error {
	switch c.Server.Transport.Kind {
	case TransportMPI, TransportTCP, TransportThread:
	default:
		return xerrors.NewConfigurationError("unknown transport kind %q", c.Server.Transport.Kind)
	}
	if len(c.Plans) == 0 {
		return xerrors.NewConfigurationError("configuration defines no plans")
	}
	for _, p := range c.Plans {
		if p.Name == "" {
			return xerrors.NewConfigurationError("plan with no name")
		}
		if len(p.Actions) == 0 {
			return xerrors.NewConfigurationError("plan %q defines no actions", p.Name)
		}
	}
	return nil
}

// BuildPlans constructs a plan.Set from the parsed configuration, wiring
// every Aggregation action against the shared Registry (spec §4.5 "Global
// process-wide table ... shared between clients and servers") and, when
// metrics is non-nil, attaching the aggregation-outcome counters.
func (c *Config) BuildPlans(reg *domain.Registry, metrics *stats.Metrics) (*plan.Set, error) {
	plans := make([]*plan.Plan, 0, len(c.Plans))
	for _, pc := range c.Plans {
		actions := make([]action.Linkable, 0, len(pc.Actions))
		for _, ac := range pc.Actions {
			a, err := buildAction(ac, reg, metrics)
			if err != nil {
				return nil, xerrors.NewConfigurationError("plan %q action %q: %v", pc.Name, ac.Type, err)
			}
			actions = append(actions, a)
		}
		plans = append(plans, plan.New(pc.Name, action.Chain(actions...)))
	}
	set := plan.NewSet(plans...)
	if metrics != nil {
		set.WithMetrics(metrics)
	}
	return set, nil
}

func buildAction(ac ActionConfig, reg *domain.Registry, metrics *stats.Metrics) (action.Linkable, error) {
	switch ac.Type {
	case "Select", "select":
		m, err := parseMatcherNode(&ac.Node)
		if err != nil {
			return nil, err
		}
		return action.NewSelect(m), nil

	case "Aggregation", "aggregation":
		var body struct {
			FlushKey string `yaml:"flush-key"`
			Strict   bool   `yaml:"strict"`
		}
		if err := ac.Node.Decode(&body); err != nil {
			return nil, err
		}
		agg := action.NewAggregation(reg)
		agg.FlushKey = body.FlushKey
		agg.Strict = body.Strict
		agg.Metrics = metrics
		return agg, nil

	case "Statistics", "statistics":
		var body struct {
			Operation string `yaml:"operation"`
			Window    int    `yaml:"window"`
		}
		if err := ac.Node.Decode(&body); err != nil {
			return nil, err
		}
		return action.NewStatistics(action.StatKindFromString(body.Operation), body.Window), nil

	case "Convert", "convert":
		var body struct {
			Target string `yaml:"target"`
		}
		if err := ac.Node.Decode(&body); err != nil {
			return nil, err
		}
		target, err := message.PrecisionFromString(body.Target)
		if err != nil {
			return nil, err
		}
		return action.NewConvert(target), nil

	case "Encode", "encode":
		return action.NewEncode(nil), nil

	case "Sink", "sink":
		var body struct {
			Name     string `yaml:"sink"`
			Path     string `yaml:"path"`
			Compress bool   `yaml:"compress"`
		}
		if err := ac.Node.Decode(&body); err != nil {
			return nil, err
		}
		if body.Path != "" {
			return action.NewSink(&action.FileWriter{Dir: body.Path, Compress: body.Compress}), nil
		}
		return action.NewSink(&action.MemoryWriter{NameStr: body.Name}), nil

	case "Print", "print":
		var body struct {
			Prefix string `yaml:"prefix"`
		}
		if err := ac.Node.Decode(&body); err != nil {
			return nil, err
		}
		return action.NewPrint(body.Prefix), nil

	case "Null", "null":
		return &action.Null{}, nil

	default:
		return nil, fmt.Errorf("unknown action type %q", ac.Type)
	}
}

// parseMatcherNode translates the "match:"/"ignore:"/"any:"/"all:"/"not:"
// configuration sugar from spec §4.7 into an action.Matcher tree. A
// configuration block may contain at most one of these at each level,
// except that match and ignore may combine (their And: match AND NOT
// ignore). "any"/"all" wrap a list of nested blocks (each itself parsed
// recursively) into an Or/And MatchReduce; "not" negates whatever matcher
// its value parses to. An action node with none of these keys (a bare
// Select with no selector body) matches everything.
func parseMatcherNode(node *yaml.Node) (action.Matcher, error) {
	var raw map[string]yaml.Node
	if err := node.Decode(&raw); err != nil {
		return nil, err
	}

	var children []action.Matcher

	if n, ok := raw["match"]; ok {
		m, err := decodeMatchKeys(&n, false)
		if err != nil {
			return nil, err
		}
		children = append(children, m)
	}
	if n, ok := raw["ignore"]; ok {
		m, err := decodeMatchKeys(&n, true)
		if err != nil {
			return nil, err
		}
		children = append(children, m)
	}
	if n, ok := raw["any"]; ok {
		m, err := decodeReduce(&n, action.ReduceOr)
		if err != nil {
			return nil, err
		}
		children = append(children, m)
	}
	if n, ok := raw["all"]; ok {
		m, err := decodeReduce(&n, action.ReduceAnd)
		if err != nil {
			return nil, err
		}
		children = append(children, m)
	}
	if n, ok := raw["not"]; ok {
		m, err := parseMatcherNode(&n)
		if err != nil {
			return nil, err
		}
		children = append(children, &action.MatchReduce{Op: action.ReduceAnd, Negate: true, Children: []action.Matcher{m}})
	}

	switch len(children) {
	case 0:
		return nil, nil // empty selector matches everything (spec §4.7)
	case 1:
		return children[0], nil
	default:
		return &action.MatchReduce{Op: action.ReduceAnd, Children: children}, nil
	}
}

func decodeMatchKeys(node *yaml.Node, negate bool) (*action.MatchKeys, error) {
	var raw map[string][]any
	if err := node.Decode(&raw); err != nil {
		return nil, err
	}
	return matchKeysFrom(raw, negate)
}

func decodeReduce(node *yaml.Node, op action.Reduce) (*action.MatchReduce, error) {
	var items []yaml.Node
	if err := node.Decode(&items); err != nil {
		return nil, err
	}
	children := make([]action.Matcher, 0, len(items))
	for i := range items {
		m, err := parseMatcherNode(&items[i])
		if err != nil {
			return nil, err
		}
		children = append(children, m)
	}
	return &action.MatchReduce{Op: op, Children: children}, nil
}

func matchKeysFrom(raw map[string][]any, negate bool) (*action.MatchKeys, error) {
	keys := make(map[string][]message.Value, len(raw))
	for k, vals := range raw {
		out := make([]message.Value, 0, len(vals))
		for _, v := range vals {
			mv, err := anyToValue(v)
			if err != nil {
				return nil, err
			}
			out = append(out, mv)
		}
		keys[k] = out
	}
	return &action.MatchKeys{Keys: keys, Negate: negate}, nil
}

func anyToValue(a any) (message.Value, error) {
	switch t := a.(type) {
	case bool:
		return message.BoolValue(t), nil
	case int:
		return message.IntValue(int64(t)), nil
	case int64:
		return message.IntValue(t), nil
	case float64:
		return message.FloatValue(t), nil
	case string:
		return message.StringValue(t), nil
	default:
		return message.Value{}, fmt.Errorf("config: unsupported selector value type %T", a)
	}
}
