/*
Package expression contains the definition and implementation of a simple
language for defining complex policies. We define the language in extended-BNF notation,
the syntax we use is from: https://en.wikipedia.org/wiki/Extended_Backus%E2%80%93Naur_form

	expr = term, [ '&', term ]*
	term = factor, [ '|', factor ]*
	factor = '(', expr, ')' | id
	id = [0-9a-z]+, ':', [0-9a-f]+

Examples:

	ed25519:deadbeef // every id evaluates to a boolean
	(a:a & b:b) | (c:c & d:d)
	darc:aa & ed25519:bb | ed25519:cc // darc:aa and one of the two keys

An expression is first parsed into a tree of nodes. The tree can then be
evaluated any number of times with a ValueCheckFn that decides whether a
single id is satisfied, or asked for the ids it mentions.
*/
package expression

import (
	"errors"
	"strings"

	parsec "github.com/prataprc/goparsec"
)

var errScannerNotEmpty = errors.New("parsing failed - scanner is not empty")
var errEmpty = errors.New("parsing failed - no expression found")

// ValueCheckFn is called for every id of the expression during the
// evaluation and decides whether that id is satisfied.
type ValueCheckFn func(string) bool

// Expr represents the unprocessed expression of our DSL.
type Expr []byte

// Node is one element of a parsed expression.
type Node interface {
	// Eval returns the truth value of the node, every id being checked
	// with fn.
	Eval(fn ValueCheckFn) bool
	// IDs returns all the ids below this node, in order of appearance.
	IDs() []string
	String() string
}

// ID is a leaf of the expression tree.
type ID string

// Eval asks fn about the id.
func (id ID) Eval(fn ValueCheckFn) bool {
	return fn(string(id))
}

// IDs returns the id itself.
func (id ID) IDs() []string {
	return []string{string(id)}
}

func (id ID) String() string {
	return string(id)
}

// And is true if all of its children are true.
type And []Node

// Eval evaluates every conjunct.
func (a And) Eval(fn ValueCheckFn) bool {
	for _, n := range a {
		if !n.Eval(fn) {
			return false
		}
	}
	return true
}

// IDs returns the ids of all conjuncts.
func (a And) IDs() []string {
	return collectIDs(a)
}

func (a And) String() string {
	return join(a, " & ")
}

// Or is true if at least one of its children is true.
type Or []Node

// Eval evaluates the alternatives until one is true.
func (o Or) Eval(fn ValueCheckFn) bool {
	for _, n := range o {
		if n.Eval(fn) {
			return true
		}
	}
	return false
}

// IDs returns the ids of all alternatives.
func (o Or) IDs() []string {
	return collectIDs(o)
}

func (o Or) String() string {
	return join(o, " | ")
}

// Parse returns the tree of the expression, or an error if the expression
// is empty or not completely consumed by the parser.
func Parse(expr Expr) (Node, error) {
	v, s := initParser()(parsec.NewScanner(expr))
	_, s = s.SkipWS()
	if !s.Endof() {
		return nil, errScannerNotEmpty
	}
	n, ok := v.(Node)
	if !ok || n == nil {
		return nil, errEmpty
	}
	return n, nil
}

// Evaluate parses the expression expr and evaluates it using fn. It returns
// the result of the evaluation, which is only valid if there are no errors.
func Evaluate(expr Expr, fn ValueCheckFn) (bool, error) {
	n, err := Parse(expr)
	if err != nil {
		return false, err
	}
	return n.Eval(fn), nil
}

// DefaultParser evaluates the expression expr, every id in ids will evaluate
// to true and all others to false.
func DefaultParser(expr Expr, ids ...string) (bool, error) {
	return Evaluate(expr, func(s string) bool {
		for _, k := range ids {
			if k == s {
				return true
			}
		}
		return false
	})
}

// IDs returns all ids found in the expression.
func (e Expr) IDs() ([]string, error) {
	n, err := Parse(e)
	if err != nil {
		return nil, err
	}
	return n.IDs(), nil
}

// InitAndExpr creates an expression where & (and) is used to combine all the
// IDs.
func InitAndExpr(ids ...string) Expr {
	return Expr(strings.Join(ids, " & "))
}

// InitOrExpr creates an expression where | (or) is used to combine all the
// IDs.
func InitOrExpr(ids ...string) Expr {
	return Expr(strings.Join(ids, " | "))
}

func initParser() parsec.Parser {
	var expr parsec.Parser // circular rat

	// Terminal rats
	var openparan = token(`\(`, "OPENPARAN")
	var closeparan = token(`\)`, "CLOSEPARAN")
	var andop = token(`&`, "AND")
	var orop = token(`\|`, "OR")

	// factor -> "(" expr ")" | id
	var group = parsec.And(groupNode, openparan, &expr, closeparan)
	var factor = parsec.OrdChoice(factorNode, token(`[0-9a-z]+:[0-9a-f]+`, "ID"), group)

	// term -> factor ("|" factor)*
	var orK = parsec.Kleene(nil, parsec.And(many2many, orop, factor))
	var term = parsec.And(foldNode(func(ns []Node) Node { return Or(ns) }), factor, orK)

	// expr -> term ("&" term)*
	var andK = parsec.Kleene(nil, parsec.And(many2many, andop, term))
	expr = parsec.And(foldNode(func(ns []Node) Node { return And(ns) }), term, andK)
	return expr
}

// token skips leading white space before matching the pattern.
func token(pattern, name string) parsec.Parser {
	p := parsec.Token(pattern, name)
	return func(s parsec.Scanner) (parsec.ParsecNode, parsec.Scanner) {
		_, s = s.SkipAny(`^[ \n\t]+`)
		return p(s)
	}
}

func factorNode(ns []parsec.ParsecNode) parsec.ParsecNode {
	if len(ns) == 0 {
		return nil
	}
	if term, ok := ns[0].(*parsec.Terminal); ok {
		return ID(term.Value)
	}
	return ns[0]
}

func groupNode(ns []parsec.ParsecNode) parsec.ParsecNode {
	if len(ns) < 3 {
		return nil
	}
	return ns[1]
}

// foldNode returns a callback combining the first node and the repeated
// "op node" pairs with mk. If there is no repetition, the first node is
// returned unchanged.
func foldNode(mk func([]Node) Node) parsec.Nodify {
	return func(ns []parsec.ParsecNode) parsec.ParsecNode {
		if len(ns) == 0 {
			return nil
		}
		first, ok := ns[0].(Node)
		if !ok {
			return nil
		}
		nodes := []Node{first}
		if len(ns) > 1 {
			rest, _ := ns[1].([]parsec.ParsecNode)
			for _, x := range rest {
				pair, ok := x.([]parsec.ParsecNode)
				if !ok || len(pair) != 2 {
					return nil
				}
				n, ok := pair[1].(Node)
				if !ok {
					return nil
				}
				nodes = append(nodes, n)
			}
		}
		if len(nodes) == 1 {
			return first
		}
		return mk(nodes)
	}
}

func many2many(ns []parsec.ParsecNode) parsec.ParsecNode {
	if len(ns) == 0 {
		return nil
	}
	return ns
}

func collectIDs(ns []Node) []string {
	var ids []string
	for _, n := range ns {
		ids = append(ids, n.IDs()...)
	}
	return ids
}

func join(ns []Node, sep string) string {
	strs := make([]string, len(ns))
	for i, n := range ns {
		switch n.(type) {
		case ID:
			strs[i] = n.String()
		default:
			strs[i] = "(" + n.String() + ")"
		}
	}
	return strings.Join(strs, sep)
}
