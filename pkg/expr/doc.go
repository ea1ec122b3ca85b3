// Package expr evaluates transition conditions against process variables.
//
// Conditions are github.com/expr-lang/expr expressions:
//
//	approved == true && amount >= 100
//	!(status == "rejected") || customer.vip
//
// Identifiers resolve against the variables visible from the leaving
// execution; dotted paths descend into map values. Unknown identifiers
// evaluate to nil. The result decides the branch by truthiness: nil, false,
// empty strings and zero numbers are false.
package expr
