// Package editor implements interactive editing sessions over shape models.
//
// A Session holds one shape instance plus the points a user has dragged or
// pinned; Solve turns those into an observation set and adopts the posterior.
// A Manager keys sessions by id and writes them through to the database.
package editor
