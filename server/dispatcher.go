package server

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"chatalk/models"
	"chatalk/protocol"
	"chatalk/store"
)

type action int

const (
	actContinue action = iota
	// actCloseAfterAck tells the session loop to read one acknowledgement
	// line and then tear the connection down.
	actCloseAfterAck
)

// Dispatcher maps a parsed command plus session state and persisted data to
// a response and its side effects. Validation order is always shape, then
// login state, then business rules, then execute.
type Dispatcher struct {
	store          store.Gateway
	registry       *Registry
	log            *slog.Logger
	lockoutWindow  time.Duration
	lastHourWindow time.Duration
	now            func() time.Time
}

func NewDispatcher(gw store.Gateway, registry *Registry, log *slog.Logger, lockoutWindow time.Duration) *Dispatcher {
	return &Dispatcher{
		store:          gw,
		registry:       registry,
		log:            log,
		lockoutWindow:  lockoutWindow,
		lastHourWindow: time.Hour,
		now:            time.Now,
	}
}

func (d *Dispatcher) Dispatch(sess *Session, cmd protocol.Command) action {
	switch cmd.Name {
	case protocol.CmdRegister:
		d.handleRegister(sess, cmd)
	case protocol.CmdLogin:
		d.handleLogin(sess, cmd)
	case protocol.CmdMessage:
		d.handleMessage(sess, cmd)
	case protocol.CmdBroadcast:
		d.handleBroadcast(sess, cmd)
	case protocol.CmdWhoseOnline:
		d.handleWhoseOnline(sess)
	case protocol.CmdWhoLastHr:
		d.handleWhoLastHour(sess)
	case protocol.CmdBlock:
		d.handleBlock(sess, cmd)
	case protocol.CmdUnblock:
		d.handleUnblock(sess, cmd)
	case protocol.CmdLogout:
		return d.handleLogout(sess)
	default:
		sess.send(protocol.StatusInvalidCommand)
	}
	return actContinue
}

func (d *Dispatcher) handleRegister(sess *Session, cmd protocol.Command) {
	parts := cmd.Split(-1)
	if len(parts) != 3 || parts[1] == "" || parts[2] == "" {
		sess.send(protocol.CmdRegister, protocol.StatusInvalidCommand)
		return
	}
	if sess.authenticated() {
		sess.send(protocol.CmdRegister, protocol.StatusUserIsLoggedIn)
		return
	}

	username, password := parts[1], parts[2]

	users, err := d.store.ListUsers()
	if err != nil {
		d.log.Error("register: list users", "err", err)
		sess.send(protocol.CmdRegister, protocol.StatusServerError)
		return
	}
	if findUser(users, username) != nil {
		sess.send(protocol.CmdRegister, protocol.StatusUsernameExists)
		return
	}
	if len(username) < 3 {
		sess.send(protocol.CmdRegister, protocol.StatusUsernameTooShort)
		return
	}
	if len(password) < 6 {
		sess.send(protocol.CmdRegister, protocol.StatusPasswordTooShort)
		return
	}

	user := &models.User{
		Username: username,
		Password: password,
		Status:   models.StatusOffline,
	}
	if err := d.store.AddUser(user); err != nil {
		d.log.Error("register: add user", "user", username, "err", err)
		sess.send(protocol.CmdRegister, protocol.StatusServerError)
		return
	}

	sess.send(protocol.CmdRegister, protocol.StatusUserRegistered)
}

func (d *Dispatcher) handleLogin(sess *Session, cmd protocol.Command) {
	parts := cmd.Split(-1)
	if len(parts) != 3 || parts[1] == "" || parts[2] == "" {
		sess.send(protocol.CmdLogin, protocol.StatusInvalidCommand)
		return
	}
	if sess.authenticated() {
		sess.send(protocol.CmdLogin, protocol.StatusUserIsLoggedIn)
		return
	}

	now := d.now()
	if sess.failedLogins >= 3 {
		if now.Before(sess.lockoutUntil) {
			sess.send(protocol.CmdLogin, protocol.StatusAccessRestricted)
			return
		}
		// Lockout window elapsed, the attempt counter restarts.
		sess.failedLogins = 0
	}

	username, password := parts[1], parts[2]

	valid, err := d.store.Authenticate(username, password)
	if err != nil {
		d.log.Error("login: authenticate", "user", username, "err", err)
		sess.send(protocol.CmdLogin, protocol.StatusServerError)
		return
	}
	if !valid {
		sess.failedLogins++
		if sess.failedLogins == 3 {
			sess.lockoutUntil = now.Add(d.lockoutWindow)
		}
		sess.send(protocol.CmdLogin, protocol.StatusInvalidCredentials)
		return
	}

	// Reserve the username before any persisted transition: the registry
	// insert is the atomic already-online check.
	if err := d.registry.Register(username, sess); err != nil {
		sess.send(protocol.CmdLogin, protocol.StatusUserAlreadyLoggedIn)
		return
	}

	users, err := d.store.ListUsers()
	if err != nil {
		d.registry.Unregister(username)
		d.log.Error("login: list users", "user", username, "err", err)
		sess.send(protocol.CmdLogin, protocol.StatusServerError)
		return
	}
	user := findUser(users, username)
	if user == nil {
		d.registry.Unregister(username)
		sess.send(protocol.CmdLogin, protocol.StatusInvalidCredentials)
		return
	}

	history, err := d.store.ListMessagesVisibleTo(username)
	if err != nil {
		d.registry.Unregister(username)
		d.log.Error("login: load history", "user", username, "err", err)
		sess.send(protocol.CmdLogin, protocol.StatusServerError)
		return
	}

	user.Status = models.StatusOnline
	user.LastConnection = now
	if err := d.store.UpdateUser(user); err != nil {
		d.registry.Unregister(username)
		d.log.Error("login: mark online", "user", username, "err", err)
		sess.send(protocol.CmdLogin, protocol.StatusServerError)
		return
	}

	sess.setUser(username)
	sess.failedLogins = 0

	// The store gives no ordering guarantee; history goes out oldest first.
	sort.SliceStable(history, func(i, j int) bool {
		return history[i].Timestamp.Before(history[j].Timestamp)
	})

	lines := make([]string, 0, len(history)+3)
	lines = append(lines, protocol.CmdLogin, protocol.StatusLoginSuccessful,
		fmt.Sprintf("history %d", len(history)))
	for i := range history {
		lines = append(lines, protocol.EncodeRecord(&history[i]))
	}
	sess.send(lines...)

	d.log.Info("user logged in", "user", username, "remote", sess.remoteAddr())
}

func (d *Dispatcher) handleMessage(sess *Session, cmd protocol.Command) {
	parts := cmd.Split(3)
	if len(parts) != 3 || parts[1] == "" || parts[2] == "" {
		sess.send(protocol.CmdMessage, protocol.StatusInvalidCommand)
		return
	}
	sender := sess.user()
	if sender == "" {
		sess.send(protocol.CmdMessage, protocol.StatusNotLoggedIn)
		return
	}

	recipient, text := parts[1], parts[2]
	if recipient == sender {
		sess.send(protocol.CmdMessage, protocol.StatusInvalidRecipient)
		return
	}

	users, err := d.store.ListUsers()
	if err != nil {
		d.log.Error("message: list users", "err", err)
		sess.send(protocol.CmdMessage, protocol.StatusServerError)
		return
	}

	recipientUser := findUser(users, recipient)
	if recipientUser != nil && recipientUser.HasBlocked(sender) {
		sess.send(protocol.CmdMessage, protocol.StatusAuthorIsBlocked)
		return
	}
	if recipientUser == nil {
		sess.send(protocol.CmdMessage, protocol.StatusRecipientNotFound)
		return
	}
	senderUser := findUser(users, sender)
	if senderUser != nil && senderUser.HasBlocked(recipient) {
		sess.send(protocol.CmdMessage, protocol.StatusRecipientIsBlocked)
		return
	}

	record := models.ChatRecord{
		ID:        uuid.NewString(),
		Kind:      models.KindDirect,
		Author:    sender,
		Recipient: recipient,
		Content:   text,
		Timestamp: d.now(),
	}
	if err := d.store.AppendMessage(&record); err != nil {
		d.log.Error("message: append", "err", err)
		sess.send(protocol.CmdMessage, protocol.StatusServerError)
		return
	}

	if target, ok := d.registry.Lookup(recipient); ok {
		if err := target.send(protocol.StatusMessageReceived, protocol.EncodeRecord(&record)); err != nil {
			d.log.Warn("message: live push failed", "recipient", recipient, "err", err)
		}
	}

	sess.send(protocol.CmdMessage, protocol.StatusMessageSaved)
}

func (d *Dispatcher) handleBroadcast(sess *Session, cmd protocol.Command) {
	parts := cmd.Split(2)
	if len(parts) != 2 || parts[1] == "" {
		sess.send(protocol.CmdBroadcast, protocol.StatusInvalidCommand)
		return
	}
	sender := sess.user()
	if sender == "" {
		sess.send(protocol.CmdBroadcast, protocol.StatusNotLoggedIn)
		return
	}

	record := models.ChatRecord{
		ID:        uuid.NewString(),
		Kind:      models.KindBroadcast,
		Author:    sender,
		Content:   parts[1],
		Timestamp: d.now(),
	}
	if err := d.store.AppendMessage(&record); err != nil {
		d.log.Error("broadcast: append", "err", err)
		sess.send(protocol.CmdBroadcast, protocol.StatusServerError)
		return
	}

	encoded := protocol.EncodeRecord(&record)
	for username, target := range d.registry.Sessions() {
		if username == sender {
			continue
		}
		if err := target.send(protocol.StatusMessageReceived, encoded); err != nil {
			d.log.Warn("broadcast: live push failed", "recipient", username, "err", err)
		}
	}

	sess.send(protocol.CmdBroadcast, protocol.StatusMessageSaved)
}

func (d *Dispatcher) handleWhoseOnline(sess *Session) {
	sess.send(protocol.CmdWhoseOnline, protocol.FormatList(d.registry.Online()))
}

func (d *Dispatcher) handleWhoLastHour(sess *Session) {
	users, err := d.store.ListUsers()
	if err != nil {
		d.log.Error("wholasthr: list users", "err", err)
		sess.send(protocol.CmdWhoLastHr, protocol.StatusServerError)
		return
	}

	now := d.now()
	var names []string
	for _, u := range users {
		if !u.LastConnection.IsZero() && now.Sub(u.LastConnection) < d.lastHourWindow {
			names = append(names, u.Username)
		}
	}
	sort.Strings(names)

	sess.send(protocol.CmdWhoLastHr, protocol.FormatList(names))
}

func (d *Dispatcher) handleBlock(sess *Session, cmd protocol.Command) {
	parts := cmd.Split(2)
	if len(parts) != 2 || parts[1] == "" {
		sess.send(protocol.CmdBlock, protocol.StatusInvalidCommand)
		return
	}
	caller := sess.user()
	if caller == "" {
		sess.send(protocol.CmdBlock, protocol.StatusNotLoggedIn)
		return
	}

	target := parts[1]
	if target == caller {
		sess.send(protocol.CmdBlock, protocol.StatusInvalidUser)
		return
	}

	users, err := d.store.ListUsers()
	if err != nil {
		d.log.Error("block: list users", "err", err)
		sess.send(protocol.CmdBlock, protocol.StatusServerError)
		return
	}
	if findUser(users, target) == nil {
		sess.send(protocol.CmdBlock, protocol.StatusUserNotFound)
		return
	}
	callerUser := findUser(users, caller)
	if callerUser == nil {
		sess.send(protocol.CmdBlock, protocol.StatusServerError)
		return
	}
	if callerUser.HasBlocked(target) {
		sess.send(protocol.CmdBlock, protocol.StatusUserAlreadyBlocked)
		return
	}

	notice := models.ChatRecord{
		ID:        uuid.NewString(),
		Kind:      models.KindServerNotice,
		Recipient: caller,
		Content:   fmt.Sprintf("User %s has been blocked.", target),
		Timestamp: d.now(),
	}
	if err := d.store.AppendMessage(&notice); err != nil {
		d.log.Error("block: append notice", "err", err)
		sess.send(protocol.CmdBlock, protocol.StatusServerError)
		return
	}

	callerUser.Blocked = append(callerUser.Blocked, target)
	if err := d.store.UpdateUser(callerUser); err != nil {
		d.log.Error("block: update user", "user", caller, "err", err)
		sess.send(protocol.CmdBlock, protocol.StatusServerError)
		return
	}

	sess.send(protocol.CmdBlock, protocol.StatusUserBlocked)
}

func (d *Dispatcher) handleUnblock(sess *Session, cmd protocol.Command) {
	parts := cmd.Split(2)
	if len(parts) != 2 || parts[1] == "" {
		sess.send(protocol.CmdUnblock, protocol.StatusInvalidCommand)
		return
	}
	caller := sess.user()
	if caller == "" {
		sess.send(protocol.CmdUnblock, protocol.StatusNotLoggedIn)
		return
	}

	target := parts[1]

	users, err := d.store.ListUsers()
	if err != nil {
		d.log.Error("ublock: list users", "err", err)
		sess.send(protocol.CmdUnblock, protocol.StatusServerError)
		return
	}
	callerUser := findUser(users, caller)
	if callerUser == nil || !callerUser.HasBlocked(target) {
		sess.send(protocol.CmdUnblock, protocol.StatusUserNotBlocked)
		return
	}

	notice := models.ChatRecord{
		ID:        uuid.NewString(),
		Kind:      models.KindServerNotice,
		Recipient: caller,
		Content:   fmt.Sprintf("User %s has been unblocked.", target),
		Timestamp: d.now(),
	}
	if err := d.store.AppendMessage(&notice); err != nil {
		d.log.Error("ublock: append notice", "err", err)
		sess.send(protocol.CmdUnblock, protocol.StatusServerError)
		return
	}

	remaining := callerUser.Blocked[:0]
	for _, b := range callerUser.Blocked {
		if b != target {
			remaining = append(remaining, b)
		}
	}
	callerUser.Blocked = remaining
	if err := d.store.UpdateUser(callerUser); err != nil {
		d.log.Error("ublock: update user", "user", caller, "err", err)
		sess.send(protocol.CmdUnblock, protocol.StatusServerError)
		return
	}

	sess.send(protocol.CmdUnblock, protocol.StatusUserUnblocked)
}

func (d *Dispatcher) handleLogout(sess *Session) action {
	username := sess.user()
	if username == "" {
		sess.send(protocol.CmdLogout, protocol.StatusNotLoggedIn)
		return actContinue
	}

	sess.send(protocol.CmdLogout, protocol.StatusLoggedOut)
	d.markOffline(username)
	d.registry.Unregister(username)
	sess.setUser("")

	d.log.Info("user logged out", "user", username, "remote", sess.remoteAddr())
	return actCloseAfterAck
}

// markOffline persists the offline transition. Errors are logged and not
// reported to the peer: on every path that reaches here the connection is
// about to close anyway.
func (d *Dispatcher) markOffline(username string) {
	users, err := d.store.ListUsers()
	if err != nil {
		d.log.Error("mark offline: list users", "user", username, "err", err)
		return
	}
	user := findUser(users, username)
	if user == nil {
		return
	}
	user.Status = models.StatusOffline
	if err := d.store.UpdateUser(user); err != nil {
		d.log.Error("mark offline: update user", "user", username, "err", err)
	}
}

func findUser(users []models.User, username string) *models.User {
	for i := range users {
		if users[i].Username == username {
			return &users[i]
		}
	}
	return nil
}
