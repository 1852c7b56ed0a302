package mc

// Variant qualifies how a symbol reference is interpreted by the linker.
type Variant int

const (
	VKNone Variant = iota
	VKImageRel32     // COFF @IMGREL: offset from the image load base
	VKSecRel32       // COFF section-relative 32-bit offset
	VKSectionIndex   // COFF 16-bit section number of the symbol
)

// Expr is a relocatable expression: symbol references and constants combined
// with addition and subtraction. Expressions are evaluated when the object is
// laid out, after every label is bound.
type Expr interface {
	isExpr()
}

// SymbolExpr references a symbol with an optional variant.
type SymbolExpr struct {
	Sym     *Symbol
	Variant Variant
}

// ConstExpr is an integer literal.
type ConstExpr struct {
	Value int64
}

// BinaryOp is the operator of a BinaryExpr.
type BinaryOp int

const (
	OpAdd BinaryOp = iota
	OpSub
)

// BinaryExpr combines two sub-expressions.
type BinaryExpr struct {
	Op       BinaryOp
	LHS, RHS Expr
}

func (SymbolExpr) isExpr() {}
func (ConstExpr) isExpr()  {}
func (BinaryExpr) isExpr() {}

// Ref returns a plain reference to sym.
func Ref(sym *Symbol) Expr { return SymbolExpr{Sym: sym} }

// RefVariant returns a reference to sym with the given variant.
func RefVariant(sym *Symbol, v Variant) Expr { return SymbolExpr{Sym: sym, Variant: v} }

// Const returns an integer literal expression.
func Const(v int64) Expr { return ConstExpr{Value: v} }

// Add returns l + r.
func Add(l, r Expr) Expr { return BinaryExpr{Op: OpAdd, LHS: l, RHS: r} }

// Sub returns l - r.
func Sub(l, r Expr) Expr { return BinaryExpr{Op: OpSub, LHS: l, RHS: r} }

// value is the normal form of an evaluated expression: at most one symbol
// plus a constant addend. A label difference within one section folds to a
// pure constant.
type value struct {
	sym     *Symbol
	variant Variant
	addend  int64
}

// eval reduces e to its normal form. Malformed combinations (two unrelated
// symbols, a negated symbol, mixed variants) indicate a generator bug and
// panic.
func eval(e Expr) value {
	switch x := e.(type) {
	case ConstExpr:
		return value{addend: x.Value}
	case SymbolExpr:
		return value{sym: x.Sym, variant: x.Variant}
	case BinaryExpr:
		l := eval(x.LHS)
		r := eval(x.RHS)
		if x.Op == OpAdd {
			if l.sym != nil && r.sym != nil {
				panicf("cannot add two symbol references")
			}
			if r.sym != nil {
				l, r = r, l
			}
			return value{sym: l.sym, variant: l.variant, addend: l.addend + r.addend}
		}
		// Subtraction: symbol - symbol folds when both labels live in the
		// same section; otherwise only a constant may be subtracted.
		if r.sym != nil {
			if l.sym == nil {
				panicf("cannot negate a symbol reference")
			}
			if !l.sym.defined || !r.sym.defined || l.sym.Sect != r.sym.Sect {
				panicf("label difference %q - %q does not fold", l.sym.Name, r.sym.Name)
			}
			if l.variant != VKNone || r.variant != VKNone {
				panicf("label difference with variant")
			}
			diff := int64(l.sym.Value) - int64(r.sym.Value)
			return value{addend: l.addend - r.addend + diff}
		}
		return value{sym: l.sym, variant: l.variant, addend: l.addend - r.addend}
	default:
		panicf("unknown expression node %T", e)
		return value{}
	}
}
