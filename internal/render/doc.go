// Package render builds every message the engine publishes.
//
// Renderers are pure: they take a session and whatever the caller computed
// and return a fresh *model.Message. Mentions are rendered as platform
// mention markup but every message disables pings, so naming a blocking
// participant never notifies them.
package render
