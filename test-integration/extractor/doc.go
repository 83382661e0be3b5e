// Package integration exercises the extractor end to end: a real HTTP server
// receives platform events, talks to a fake Trello API and delivers signals to
// a recording callback endpoint.
package integration
