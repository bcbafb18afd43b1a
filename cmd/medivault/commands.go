package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"

	"medivault/internal/app"
	"medivault/internal/chat"
	"medivault/internal/documents"
	"medivault/internal/guard"
	"medivault/internal/session"
	"medivault/pkg/domain"
)

const commandHelp = `commands:
  login [username]        sign in
  register [username]     create an account
  logout                  sign out and forget the saved token
  whoami                  show the signed-in user
  docs [query]            list documents, optionally filtered by filename
  upload [flags] <file>   upload a PDF, image or text file
                          -category, -description, -metadata
  rm <id> [-y]            delete a document
  chat                    talk to the assistant about your records
`

type command struct {
	// route is the view the command shows; "" skips the guard.
	route string
	run   func(c *cli, ctx context.Context, args []string) error
}

var commands = map[string]command{
	"login":    {route: guard.RouteLogin, run: (*cli).login},
	"register": {route: guard.RouteRegister, run: (*cli).register},
	"logout":   {run: (*cli).logout},
	"whoami":   {route: guard.RouteHome, run: (*cli).whoami},
	"docs":     {route: guard.RouteHome, run: (*cli).docs},
	"upload":   {route: guard.RouteHome, run: (*cli).upload},
	"rm":       {route: guard.RouteHome, run: (*cli).remove},
	"chat":     {route: guard.RouteChat, run: (*cli).chat},
}

// notice is an error whose text is shown to the user as is.
type notice string

func (n notice) Error() string { return string(n) }

// errUsage marks bad command-line input; run exits 2 for it.
var errUsage = errors.New("usage")

type cli struct {
	app *app.App
	in  prompter
	out io.Writer
}

func (c *cli) run(ctx context.Context, args []string) int {
	if len(args) == 0 {
		fmt.Fprint(c.out, commandHelp)
		return 2
	}
	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(c.out, "unknown command %q\n\n%s", args[0], commandHelp)
		return 2
	}
	if cmd.route != "" && !c.admit(cmd.route) {
		return 1
	}
	err := cmd.run(c, ctx, args[1:])
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errUsage):
		fmt.Fprintln(c.out, err)
		return 2
	case errors.Is(err, errAborted):
		fmt.Fprintln(c.out)
		return 1
	default:
		fmt.Fprintln(c.out, err)
		return 1
	}
}

// admit consults the guard for route and explains a redirect.
func (c *cli) admit(route string) bool {
	decision := c.app.Guard().Resolve(route)
	switch decision.Outcome {
	case guard.Allow:
		return true
	case guard.Redirect:
		if decision.Target == guard.RouteLogin {
			fmt.Fprintln(c.out, "Please log in first: medivault login")
			return false
		}
		if identity, ok := c.app.Session().Identity(); ok {
			fmt.Fprintf(c.out, "Already logged in as %s. Run 'medivault logout' to switch accounts.\n", identity.Username)
		}
		return false
	case guard.Pending:
		fmt.Fprintln(c.out, "Session is still loading, try again.")
		return false
	default:
		fmt.Fprintf(c.out, "Nothing at %s.\n", decision.Path)
		return false
	}
}

func (c *cli) login(ctx context.Context, args []string) error {
	username, err := c.argOrPrompt(args, "Username: ")
	if err != nil {
		return err
	}
	password, err := c.in.Password("Password: ")
	if err != nil {
		return err
	}
	identity, err := c.app.Session().Login(ctx, username, password)
	if err != nil {
		return loginMessage(err)
	}
	fmt.Fprintf(c.out, "Welcome, %s.\n", identity.DisplayName)
	return nil
}

func loginMessage(err error) error {
	var authErr *session.AuthenticationError
	if errors.As(err, &authErr) {
		switch authErr.Reason {
		case "invalid credentials":
			return notice("Login failed: incorrect username or password.")
		case "username and password are required":
			return notice("Login failed: username and password are required.")
		}
	}
	if errors.Is(err, session.ErrBusy) {
		return notice("A login is already in progress.")
	}
	return notice("Login failed: could not reach the server. Please try again.")
}

func (c *cli) register(ctx context.Context, args []string) error {
	username, err := c.argOrPrompt(args, "Username: ")
	if err != nil {
		return err
	}
	fullName, err := c.in.Prompt("Full name (optional): ")
	if err != nil {
		return err
	}
	password, err := c.in.Password("Password: ")
	if err != nil {
		return err
	}
	if err := c.app.Session().Register(ctx, username, password, fullName); err != nil {
		var regErr *session.RegistrationError
		if errors.As(err, &regErr) {
			return notice(regErr.Message)
		}
		return notice(session.GenericRegistrationMessage)
	}
	fmt.Fprintln(c.out, "Account created. Run 'medivault login' to sign in.")
	return nil
}

func (c *cli) logout(ctx context.Context, _ []string) error {
	if err := c.app.Session().Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintln(c.out, "Logged out.")
	return nil
}

func (c *cli) whoami(_ context.Context, _ []string) error {
	identity, ok := c.app.Session().Identity()
	if !ok {
		return notice("Not logged in.")
	}
	fmt.Fprintf(c.out, "%s (%s)\n", identity.Username, identity.DisplayName)
	return nil
}

func (c *cli) docs(ctx context.Context, args []string) error {
	synchronizer := c.app.Documents()
	if err := synchronizer.Refresh(ctx); err != nil {
		return c.explain(err)
	}
	list := synchronizer.Filter(strings.Join(args, " "))
	if len(list) == 0 {
		if len(args) > 0 {
			fmt.Fprintln(c.out, "No documents match.")
		} else {
			fmt.Fprintln(c.out, "No documents uploaded yet.")
		}
		return nil
	}
	printDocuments(c.out, list)
	return nil
}

func printDocuments(w io.Writer, docs []domain.Document) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tFILENAME\tCATEGORY\tUPLOADED\tDESCRIPTION")
	for _, doc := range docs {
		uploaded := "-"
		if !doc.UploadedAt.IsZero() {
			uploaded = doc.UploadedAt.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", doc.ID, doc.Filename, dash(doc.Category), uploaded, dash(doc.Description))
	}
	_ = tw.Flush()
}

func dash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func (c *cli) upload(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("upload", flag.ContinueOnError)
	fs.SetOutput(c.out)
	category := fs.String("category", "", "document category")
	description := fs.String("description", "", "short description")
	metadata := fs.String("metadata", "", "extra metadata")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: upload [flags] <file>", errUsage)
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("%w: upload [flags] <file>", errUsage)
	}
	path := fs.Arg(0)
	f, err := os.Open(path)
	if err != nil {
		return notice(fmt.Sprintf("Cannot open %s: %v", path, err))
	}
	defer f.Close()

	err = c.app.Documents().Upload(ctx, documents.FileHandle{
		Name:         filepath.Base(path),
		Content:      f,
		Category:     *category,
		Description:  *description,
		MetadataInfo: *metadata,
	})
	if err != nil {
		return c.explain(err)
	}
	fmt.Fprintf(c.out, "Uploaded %s.\n", filepath.Base(path))
	return nil
}

func (c *cli) remove(ctx context.Context, args []string) error {
	var (
		yes bool
		ids []string
	)
	for _, arg := range args {
		switch arg {
		case "-y", "--yes":
			yes = true
		default:
			ids = append(ids, arg)
		}
	}
	if len(ids) != 1 {
		return fmt.Errorf("%w: rm <id> [-y]", errUsage)
	}
	id, err := strconv.ParseInt(ids[0], 10, 64)
	if err != nil {
		return fmt.Errorf("%w: document id must be a number", errUsage)
	}
	synchronizer := c.app.Documents()
	if err := synchronizer.Refresh(ctx); err != nil {
		return c.explain(err)
	}
	var promptErr error
	confirm := func(doc domain.Document) bool {
		if yes {
			return true
		}
		answer, err := c.in.Prompt(fmt.Sprintf("Delete %s? [y/N] ", doc.Filename))
		if err != nil {
			promptErr = err
			return false
		}
		answer = strings.ToLower(strings.TrimSpace(answer))
		return answer == "y" || answer == "yes"
	}
	err = synchronizer.Delete(ctx, id, confirm)
	switch {
	case promptErr != nil:
		return promptErr
	case errors.Is(err, documents.ErrNotConfirmed):
		fmt.Fprintln(c.out, "Cancelled.")
		return nil
	case err != nil:
		return c.explain(err)
	}
	fmt.Fprintf(c.out, "Deleted document %d.\n", id)
	return nil
}

func (c *cli) chat(ctx context.Context, _ []string) error {
	conv, err := c.app.NewChat()
	if err != nil {
		return err
	}
	defer conv.Close()

	fmt.Fprintln(c.out, "assistant> "+conv.Transcript()[0].Content)
	fmt.Fprintln(c.out, "(type /exit to leave)")
	for {
		text, err := c.in.Prompt("you> ")
		if errors.Is(err, errAborted) {
			return nil
		}
		if err != nil {
			return err
		}
		text = strings.TrimSpace(text)
		if text == "/exit" || text == "/quit" {
			return nil
		}
		if !conv.Send(ctx, text) {
			continue
		}
		transcript := conv.Transcript()
		fmt.Fprintln(c.out, "assistant> "+transcript[len(transcript)-1].Content)
		if chatErr := conv.LastError(); chatErr != nil && errors.Is(chatErr, session.ErrSessionExpired) {
			return c.explain(chatErr)
		}
	}
}

// explain turns component errors into something to show the user.
func (c *cli) explain(err error) error {
	var chatErr *chat.ChatError
	switch {
	case errors.Is(err, session.ErrSessionExpired), errors.Is(err, session.ErrNotAuthenticated):
		return notice("Your session has expired. Please log in again: medivault login")
	case errors.Is(err, documents.ErrUnknownDocument):
		return notice("No document with that id.")
	case errors.Is(err, documents.ErrUnsupportedType):
		return notice("Invalid file type. Accepted: PDF, PNG, JPG, JPEG, TXT.")
	case errors.Is(err, documents.ErrEmptyFile):
		return notice("The file is empty.")
	case errors.Is(err, documents.ErrTooLarge):
		return notice("The file is too large to upload.")
	case errors.Is(err, documents.ErrBusy):
		return notice("Another request is still running.")
	case errors.As(err, &chatErr):
		return notice(chatErr.Message)
	}
	var resErr *documents.ResourceError
	if errors.As(err, &resErr) {
		return notice(fmt.Sprintf("Could not %s documents. Please try again.", resErr.Op))
	}
	return err
}

func (c *cli) argOrPrompt(args []string, label string) (string, error) {
	if len(args) > 0 {
		return strings.TrimSpace(args[0]), nil
	}
	value, err := c.in.Prompt(label)
	return strings.TrimSpace(value), err
}
