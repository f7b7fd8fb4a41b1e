package pipeline

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// Contract is a compiled contract as listed by the contracts collaborator.
// Fields of the record that Contract does not name are kept in Extra and
// written back with it, so an artifact is the whole record.
type Contract struct {
	ClassName       string          `json:"className"`
	ABI             json.RawMessage `json:"abiDefinition,omitempty"`
	Bytecode        string          `json:"code,omitempty"`
	DeployedAddress string          `json:"deployedAddress,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// contractFields is Contract without its JSON methods.
type contractFields Contract

var contractKeys = []string{"className", "abiDefinition", "code", "deployedAddress"}

// UnmarshalJSON decodes a contract record, keeping unknown fields.
func (c *Contract) UnmarshalJSON(data []byte) error {
	var fields contractFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for _, key := range contractKeys {
		delete(all, key)
	}
	if len(all) > 0 {
		fields.Extra = all
	}
	*c = Contract(fields)
	return nil
}

// MarshalJSON encodes the named fields together with Extra. Named fields
// win over Extra entries of the same key.
func (c Contract) MarshalJSON() ([]byte, error) {
	named, err := json.Marshal(contractFields(c))
	if err != nil {
		return nil, err
	}
	if len(c.Extra) == 0 {
		return named, nil
	}
	var out map[string]json.RawMessage
	if err := json.Unmarshal(named, &out); err != nil {
		return nil, err
	}
	for key, value := range c.Extra {
		if _, ok := out[key]; !ok {
			out[key] = value
		}
	}
	return json.Marshal(out)
}

// ValidateClassName rejects class names that cannot be used as a single
// file name.
func ValidateClassName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidClassName, name)
	}
	return nil
}

// buildContracts writes one JSON artifact per contract and the contracts
// index module, and records a generated import per contract in b.imports.
func (p *Pipeline) buildContracts(ctx context.Context, b *build) ([]Contract, error) {
	artifactDir := filepath.Join(b.buildDir, "contracts")
	if err := os.MkdirAll(artifactDir, 0o755); err != nil {
		return nil, fmt.Errorf("create contracts dir: %w", err)
	}

	contracts, err := p.listContracts(ctx)
	if err != nil {
		return nil, err
	}

	if err := p.writeContractJSON(ctx, b, artifactDir, contracts); err != nil {
		return nil, err
	}

	if err := p.writeContractsIndex(ctx, b, contracts); err != nil {
		return nil, err
	}
	return contracts, nil
}

func (p *Pipeline) listContracts(ctx context.Context) ([]Contract, error) {
	reply, err := p.bus.Call(ctx, CommandContractsList)
	if err != nil {
		return nil, fmt.Errorf("list contracts: %w", err)
	}
	var contracts []Contract
	switch v := reply.(type) {
	case nil:
		return nil, nil
	case []Contract:
		contracts = v
	case []*Contract:
		contracts = make([]Contract, 0, len(v))
		for _, c := range v {
			if c != nil {
				contracts = append(contracts, *c)
			}
		}
	default:
		return nil, fmt.Errorf("%w: %s returned %T", ErrUnexpectedReply, CommandContractsList, reply)
	}
	for _, c := range contracts {
		if err := ValidateClassName(c.ClassName); err != nil {
			return nil, err
		}
	}
	return contracts, nil
}

// writeContractJSON writes the artifacts concurrently. A failed write is
// logged and does not stop its siblings; all failures are returned together
// once every write has finished.
func (p *Pipeline) writeContractJSON(ctx context.Context, b *build, dir string, contracts []Contract) error {
	var (
		mu   sync.Mutex
		errs error
	)
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(b.cfg.MaxConcurrency)
	for _, contract := range contracts {
		g.Go(func() error {
			target := filepath.Join(dir, contract.ClassName+".json")
			if err := writeJSONFile(target, contract); err != nil {
				p.logger.Error("Failed to write contract artifact", "contract", contract.ClassName, "path", target, "error", err)
				mu.Lock()
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", contract.ClassName, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errs
}

func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// writeContractsIndex asks the code generator for every contract's module,
// then writes the index exporting them in listing order. The index is
// written to a temporary file and renamed into place once complete.
func (p *Pipeline) writeContractsIndex(ctx context.Context, b *build, contracts []Contract) error {
	contractsDir := p.env.DappJoin(b.cfg.GenerationDir, "contracts")
	if err := os.MkdirAll(contractsDir, 0o755); err != nil {
		return fmt.Errorf("create generated contracts dir: %w", err)
	}

	paths := make([]string, len(contracts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.cfg.MaxConcurrency)
	for i, contract := range contracts {
		g.Go(func() error {
			reply, err := p.bus.Call(gctx, CommandCodeGenerator, contract.ClassName)
			if err != nil {
				return fmt.Errorf("generate %s: %w", contract.ClassName, err)
			}
			path, ok := reply.(string)
			if !ok {
				return fmt.Errorf("%w: %s returned %T", ErrUnexpectedReply, CommandCodeGenerator, reply)
			}
			paths[i] = path
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(contractsDir, ".index-*.js")
	if err != nil {
		return fmt.Errorf("create contracts index: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	fmt.Fprint(w, "module.exports = {\n")
	for i, contract := range contracts {
		b.imports[ImportContracts+"/"+contract.ClassName] = p.env.DappJoin(paths[i])
		fmt.Fprintf(w, "%q: require('./%s').default,\n", contract.ClassName, contract.ClassName)
	}
	fmt.Fprint(w, "\n};")

	if err := multierr.Combine(w.Flush(), tmp.Close()); err != nil {
		return fmt.Errorf("write contracts index: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(contractsDir, "index.js")); err != nil {
		return fmt.Errorf("replace contracts index: %w", err)
	}
	return nil
}
