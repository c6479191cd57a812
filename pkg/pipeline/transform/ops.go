package transform

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode"

	config "github.com/coraldata/medley/pkg/pipeline/core/config"
	model "github.com/coraldata/medley/pkg/pipeline/core/model"
	"github.com/coraldata/medley/pkg/pipeline/support/exception"
)

// Op is one per-row transform operation. Ops mutate the working row in place;
// anything that cannot be applied cleanly is moved to the rescue bucket
// instead of failing the row.
type Op interface {
	Apply(row model.Row, rescue model.RescueBucket)
}

// renameOp moves a field to a new name. If the new name is already occupied,
// the incoming value is rescued under its original name.
type renameOp struct {
	From string `mapstructure:"from"`
	To   string `mapstructure:"to"`
}

func (o *renameOp) Apply(row model.Row, rescue model.RescueBucket) {
	value, ok := row[o.From]
	if !ok {
		return
	}
	delete(row, o.From)
	if _, occupied := row[o.To]; occupied {
		rescue[o.From] = value
		return
	}
	row[o.To] = value
}

// castOp coerces a field to a canonical type. A value that cannot be coerced
// is rescued and the field cleared.
type castOp struct {
	Field  string `mapstructure:"field"`
	Type   string `mapstructure:"type"`
	Layout string `mapstructure:"layout"`
}

func (o *castOp) Apply(row model.Row, rescue model.RescueBucket) {
	value, ok := row[o.Field]
	if !ok || value == nil {
		return
	}
	cast, ok := model.CastValue(value, model.FieldType(o.Type), o.Layout)
	if !ok {
		rescue[o.Field] = value
		delete(row, o.Field)
		return
	}
	row[o.Field] = cast
}

// hashOp replaces a field with the hex digest of its value, pseudonymizing it.
type hashOp struct {
	Field     string `mapstructure:"field"`
	Algorithm string `mapstructure:"algorithm"`
}

func (o *hashOp) Apply(row model.Row, rescue model.RescueBucket) {
	value, ok := row[o.Field]
	if !ok || value == nil {
		return
	}
	data := []byte(fmt.Sprintf("%v", value))
	switch o.Algorithm {
	case "sha256":
		sum := sha256.Sum256(data)
		row[o.Field] = hex.EncodeToString(sum[:])
	default: // sha1
		sum := sha1.Sum(data)
		row[o.Field] = hex.EncodeToString(sum[:])
	}
}

// initcapOp capitalizes the first letter of each word and lowers the rest,
// matching SQL INITCAP. Non-string values are left untouched.
type initcapOp struct {
	Field string `mapstructure:"field"`
}

func (o *initcapOp) Apply(row model.Row, rescue model.RescueBucket) {
	s, ok := row[o.Field].(string)
	if !ok {
		return
	}
	row[o.Field] = initcap(s)
}

func initcap(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	startOfWord := true
	for _, r := range s {
		if unicode.IsSpace(r) {
			startOfWord = true
			b.WriteRune(r)
			continue
		}
		if startOfWord {
			b.WriteRune(unicode.ToUpper(r))
			startOfWord = false
		} else {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// dropOp removes fields outright. Dropping is deliberate and does not rescue.
type dropOp struct {
	Fields []string `mapstructure:"fields"`
}

func (o *dropOp) Apply(row model.Row, rescue model.RescueBucket) {
	for _, f := range o.Fields {
		delete(row, f)
	}
}

// buildOps decodes the declarative op list of a stage definition.
func buildOps(stageName string, defs []config.TransformOp) ([]Op, error) {
	ops := make([]Op, 0, len(defs))
	for _, def := range defs {
		var op Op
		switch def.Op {
		case "rename":
			op = &renameOp{}
		case "cast":
			op = &castOp{}
		case "hash":
			op = &hashOp{}
		case "initcap":
			op = &initcapOp{}
		case "drop":
			op = &dropOp{}
		default:
			return nil, exception.Newf(stageName, exception.KindConfig, "unknown transform op %q", def.Op)
		}
		if err := def.Decode(op); err != nil {
			return nil, exception.New(stageName, exception.KindConfig, "invalid transform op params", err)
		}
		if c, ok := op.(*castOp); ok && !model.FieldType(c.Type).IsValid() {
			return nil, exception.Newf(stageName, exception.KindConfig, "cast op targets unknown type %q", c.Type)
		}
		ops = append(ops, op)
	}
	return ops, nil
}
