package bpmn

// Version is the release of the library and the bpmn command.
var Version = "0.1.0"
