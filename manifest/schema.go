package manifest

import (
	"errors"
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

// schema constrains every loxvm.toml setting.
const schema = `
#Config: {
	gc: {
		"initial-threshold": int & >0
		"growth-factor":     number & >1
		"min-threshold":     int & >0
		stress:              bool
		trace:               bool
	}
	vm: {
		"max-frames": int & >=1 & <=4096
	}
	server: {
		addr:          string
		"grpc-addr":   string
		"queue-depth": int & >=0
	}
	journal: {
		enabled: bool
		path:    string
		if enabled {
			path: !=""
		}
	}
	log: {
		verbosity: int & >=0 & <=5
		file:      string
	}
}
`

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Validate checks m against the configuration schema.
func (m *Manifest) Validate() error {
	ctx := cuecontext.New()
	compiled := ctx.CompileString(schema)
	if err := compiled.Err(); err != nil {
		return fmt.Errorf("configuration schema: %w", err)
	}

	def := compiled.LookupPath(cue.ParsePath("#Config"))
	value := def.Unify(ctx.Encode(m))
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalid, cueerrors.Details(err, nil))
	}
	return nil
}
