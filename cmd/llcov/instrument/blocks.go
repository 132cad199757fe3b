// Package instrument - Basic block discovery.
//
// Go source has no explicit basic blocks, so they are recovered from the
// statement structure of each function body. A block starts at:
//
//   - the first statement of every statement list (function body, branch
//     bodies, loop bodies, case and comm clauses, bare blocks)
//   - a labeled statement (a jump target)
//   - the statement following a control statement (if, for, range,
//     switch, select, bare block) or a terminating statement (return,
//     break, continue, goto, fallthrough)
//
// and extends over the following statements of the same list. A control
// statement belongs to the block that evaluates its header. An empty
// statement list is still a block, located at its opening brace or case
// keyword.
//
// The coverage call of a block starting at a labeled statement goes after
// the label so that a goto reaching the label still reports the block.
// Labeled loops, switches and selects keep the call in front of the label:
// break and continue need the label on the statement itself.
//
// Blocks are produced in program order, which is the order relblock
// ordinals are assigned in.
package instrument

import (
	"go/ast"
	"go/token"
)

// basicBlock is one block of a function body together with the way to
// prepend a statement to it.
type basicBlock struct {
	// stmts are the statements of the block, in order.
	stmts []ast.Stmt

	// at locates an empty block.
	at token.Pos

	// insert prepends stmt to the block.
	insert func(stmt ast.Stmt)
}

// positions returns the locations the block is resolved from.
func (b *basicBlock) positions() []token.Pos {
	if len(b.stmts) == 0 {
		return []token.Pos{b.at}
	}
	out := make([]token.Pos, len(b.stmts))
	for i, s := range b.stmts {
		out[i] = s.Pos()
	}
	return out
}

// blockSplitter collects the basic blocks of one function body. Nested
// function literals are not entered; they are functions of their own.
type blockSplitter struct {
	blocks []*basicBlock
}

// splitBlocks returns the blocks of body in program order.
func splitBlocks(body *ast.BlockStmt) []*basicBlock {
	s := &blockSplitter{}
	s.list(&body.List, body.Lbrace)
	return s.blocks
}

func (s *blockSplitter) open(list *[]ast.Stmt, index int, at token.Pos) *basicBlock {
	b := &basicBlock{
		at: at,
		insert: func(stmt ast.Stmt) {
			l := *list
			l = append(l, nil)
			copy(l[index+1:], l[index:])
			l[index] = stmt
			*list = l
		},
	}
	s.blocks = append(s.blocks, b)
	return b
}

// openLabel opens a block whose call is placed between the innermost
// label of ls and its statement. The statement moves to the list right
// after ls.
func (s *blockSplitter) openLabel(list *[]ast.Stmt, index int, ls *ast.LabeledStmt) *basicBlock {
	b := &basicBlock{
		at: ls.Pos(),
		insert: func(stmt ast.Stmt) {
			target := jumpTarget(ls)
			inner := target.Stmt
			target.Stmt = stmt
			if _, empty := inner.(*ast.EmptyStmt); empty {
				return
			}
			l := *list
			l = append(l, nil)
			copy(l[index+2:], l[index+1:])
			l[index+1] = inner
			*list = l
		},
	}
	s.blocks = append(s.blocks, b)
	return b
}

// jumpTarget returns the innermost label of ls, or nil when the labeled
// statement is a loop, switch or select.
func jumpTarget(ls *ast.LabeledStmt) *ast.LabeledStmt {
	for {
		switch n := ls.Stmt.(type) {
		case *ast.LabeledStmt:
			ls = n
		case *ast.ForStmt, *ast.RangeStmt, *ast.SwitchStmt, *ast.TypeSwitchStmt, *ast.SelectStmt:
			return nil
		default:
			return ls
		}
	}
}

// list splits a statement list. empty locates the block of an empty list.
func (s *blockSplitter) list(list *[]ast.Stmt, empty token.Pos) {
	stmts := *list
	if len(stmts) == 0 {
		s.open(list, 0, empty)
		return
	}

	var cur *basicBlock
	for i, stmt := range stmts {
		ls, labeled := stmt.(*ast.LabeledStmt)
		switch {
		case labeled && jumpTarget(ls) != nil:
			cur = s.openLabel(list, i, ls)
		case cur == nil || labeled:
			cur = s.open(list, i, stmt.Pos())
		}
		cur.stmts = append(cur.stmts, stmt)
		if s.stmt(stmt) {
			cur = nil
		}
	}
}

// stmt enters the nested statement lists of stmt and reports whether stmt
// ends the current block.
func (s *blockSplitter) stmt(stmt ast.Stmt) bool {
	switch n := stmt.(type) {
	case *ast.LabeledStmt:
		return s.stmt(n.Stmt)

	case *ast.IfStmt:
		s.list(&n.Body.List, n.Body.Lbrace)
		s.elseBranch(n)
		return true

	case *ast.ForStmt:
		s.list(&n.Body.List, n.Body.Lbrace)
		return true

	case *ast.RangeStmt:
		s.list(&n.Body.List, n.Body.Lbrace)
		return true

	case *ast.SwitchStmt:
		s.clauses(n.Body)
		return true

	case *ast.TypeSwitchStmt:
		s.clauses(n.Body)
		return true

	case *ast.SelectStmt:
		s.clauses(n.Body)
		return true

	case *ast.BlockStmt:
		s.list(&n.List, n.Lbrace)
		return true

	case *ast.ReturnStmt, *ast.BranchStmt:
		return true
	}
	return false
}

// elseBranch handles the else part of an if statement. An else-if chain
// is a block of its own (the condition is evaluated there); prepending to
// it wraps the nested if in a block.
func (s *blockSplitter) elseBranch(n *ast.IfStmt) {
	switch e := n.Else.(type) {
	case *ast.BlockStmt:
		s.list(&e.List, e.Lbrace)

	case *ast.IfStmt:
		b := &basicBlock{
			stmts: []ast.Stmt{e},
			insert: func(stmt ast.Stmt) {
				n.Else = &ast.BlockStmt{List: []ast.Stmt{stmt, e}}
			},
		}
		s.blocks = append(s.blocks, b)
		s.list(&e.Body.List, e.Body.Lbrace)
		s.elseBranch(e)
	}
}

func (s *blockSplitter) clauses(body *ast.BlockStmt) {
	for _, c := range body.List {
		switch cc := c.(type) {
		case *ast.CaseClause:
			s.list(&cc.Body, cc.Case)
		case *ast.CommClause:
			s.list(&cc.Body, cc.Case)
		}
	}
}
