// Command bpmn runs and inspects BPMN process definitions.
package main

func main() {
	Execute()
}
