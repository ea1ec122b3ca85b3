/*
Package dsl provides a Go DSL for programmatically constructing process definitions.

It allows developers to define process graphs using a fluent builder instead of
YAML files. This is particularly useful for unit testing and for definitions
generated at runtime.

Example usage:

	b := dsl.New("order")

	b.Add("start").Start().Go("approve")
	b.Add("approve").UserTask().Assign("manager").Go("route")
	b.Add("route").Exclusive().
		Branch("approved == true", "ship").
		Otherwise("reject")
	b.Add("ship").ServiceTask().Go("end")
	b.Add("reject").Go("end")
	b.Add("end").End()

	def, err := b.Build()
*/
package dsl
