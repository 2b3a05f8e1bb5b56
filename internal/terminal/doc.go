// Package terminal keeps the privileged side's multiplexed terminals.
//
// A Registry allocates terminals per remote session and per namespace (a
// feature area inside that session, e.g. "shell" or "files"). Every session
// owns one id counter shared by all of its namespaces, so ids are unique and
// strictly increasing within a session and are never handed out twice, even
// after the terminal holding them is deleted.
//
// A Terminal is the emulator side of a console: it keeps a scrollback of
// rendered lines and can optionally be attached to a shell through a PTY.
// Escape sequences are kept verbatim; only CR, LF and end-of-line
// conversion are interpreted.
//
// Example Usage:
//
//	reg := terminal.NewRegistry(logger)
//	rec := reg.Create("sess_01H...", "shell", "", nil) // id 1, name "1"
//	_ = rec.Terminal.Start("/bin/bash", "/home/operator", nil)
//	for _, r := range reg.List("sess_01H...", "shell") {
//		fmt.Println(r.ID, r.Name)
//	}
//	reg.Delete("sess_01H...", "shell", rec.ID)
package terminal
