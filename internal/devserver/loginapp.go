package devserver

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/udisondev/worldlink/internal/config"
	"github.com/udisondev/worldlink/internal/crypto"
	"github.com/udisondev/worldlink/internal/db"
	"github.com/udisondev/worldlink/internal/login"
	"github.com/udisondev/worldlink/internal/mercury"
	"github.com/udisondev/worldlink/internal/protocol"
	"github.com/udisondev/worldlink/internal/wire"
)

const accountTimeout = 5 * time.Second

// LoginApp authenticates accounts and points clients at the BaseApp.
type LoginApp struct {
	cfg      config.DevServer
	nub      *mercury.Nub
	accounts AccountRepository
	key      *crypto.PrivateKey
	pending  *pendingLogins
	base     *BaseApp
}

func newLoginApp(cfg config.DevServer, nub *mercury.Nub, accounts AccountRepository,
	key *crypto.PrivateKey, pending *pendingLogins, base *BaseApp) *LoginApp {
	la := &LoginApp{
		cfg:      cfg,
		nub:      nub,
		accounts: accounts,
		key:      key,
		pending:  pending,
		base:     base,
	}
	nub.Serve(protocol.LoginLogin, mercury.InputHandlerFunc(la.handleLogin))
	nub.Serve(protocol.LoginProbe, mercury.InputHandlerFunc(la.handleProbe))
	return la
}

// Addr is where the LoginApp listens.
func (la *LoginApp) Addr() wire.Address { return la.nub.Address() }

// rejection is a failed login: the status and the text sent to the client.
type rejection struct {
	status login.Status
	msg    string
}

func reject(status login.Status, format string, args ...any) *rejection {
	return &rejection{status: status, msg: fmt.Sprintf(format, args...)}
}

func (la *LoginApp) handleLogin(src wire.Address, hdr mercury.UnpackedHeader, data *wire.Reader) {
	if !hdr.IsRequest {
		slog.Warn("login is not a request", "from", src)
		return
	}

	b := mercury.NewBundle()
	w := b.StartReply(hdr.ReplyID)

	record, rej := la.login(src, data)
	if rej != nil {
		slog.Info("login rejected", "from", src, "status", rej.status, "message", rej.msg)
		w.WriteUint8(uint8(rej.status))
		w.WriteString(rej.msg)
	} else {
		w.WriteUint8(uint8(login.StatusLoggedOn))
		w.WriteBytes(record)
	}

	if err := la.nub.Send(src, b); err != nil {
		slog.Warn("sending login reply", "to", src, "error", err)
	}
}

// login проверяет запрос и возвращает готовую (возможно зашифрованную)
// запись ответа.
func (la *LoginApp) login(src wire.Address, data *wire.Reader) ([]byte, *rejection) {
	version, err := data.ReadUint32()
	if err != nil {
		return nil, reject(login.StatusMalformedRequest, "Missing protocol version")
	}
	if version != protocol.LoginVersion {
		return nil, reject(login.StatusBadProtocolVersion,
			"Client version %d does not match server version %d", version, protocol.LoginVersion)
	}

	encrypted, err := data.ReadBool()
	if err != nil {
		return nil, reject(login.StatusMalformedRequest, "Missing encryption flag")
	}
	var key *crypto.PrivateKey
	if encrypted {
		if la.key == nil {
			return nil, reject(login.StatusMalformedRequest, "Encrypted logins are not supported")
		}
		key = la.key
	}

	var params login.LogOnParams
	if err := params.ReadFromStream(data, key); err != nil {
		slog.Warn("bad log on params", "from", src, "error", err)
		return nil, reject(login.StatusMalformedRequest, "Could not decode credentials")
	}

	if !la.cfg.LoginsAllowed {
		return nil, reject(login.StatusLoginsNotAllowed, "Logins are not allowed")
	}

	username := strings.ToLower(strings.TrimSpace(params.Username))
	if username == "" {
		return nil, reject(login.StatusNoSuchUser, "Empty username")
	}
	if strings.IndexFunc(username, func(r rune) bool { return !unicode.IsPrint(r) || unicode.IsSpace(r) }) >= 0 {
		return nil, reject(login.StatusIllegalCharacters, "Username contains illegal characters")
	}

	// Повтор уже принятого запроса получает тот же ключ.
	if p, ok := la.pending.byUser(username); ok && p.Nonce == params.Nonce {
		slog.Debug("login request retried", "login", username, "from", src)
		return la.replyRecord(p)
	}

	if rej := la.checkAccount(src, username, params.Password); rej != nil {
		return nil, rej
	}
	if la.base.online(username) {
		return nil, reject(login.StatusAlreadyLoggedIn, "Account %s is already logged in", username)
	}

	p := &pendingLogin{
		Username:  username,
		Nonce:     params.Nonce,
		FilterKey: []byte(params.EncryptionKey),
	}
	la.pending.add(p)
	slog.Info("login accepted", "login", username, "from", src, "encrypted", encrypted)
	return la.replyRecord(p)
}

func (la *LoginApp) checkAccount(src wire.Address, username, password string) *rejection {
	ctx, cancel := context.WithTimeout(context.Background(), accountTimeout)
	defer cancel()

	ip := net.IP(src.IP[:]).String()
	hash := db.HashPassword(password)

	acc, err := la.accounts.GetAccount(ctx, username)
	if err != nil {
		slog.Error("database error during login", "login", username, "error", err)
		return reject(login.StatusDBGeneralFailure, "Database error")
	}
	if acc == nil {
		if !la.cfg.AutoCreateAccounts {
			return reject(login.StatusNoSuchUser, "Unknown user %s", username)
		}
		if acc, err = la.accounts.GetOrCreateAccount(ctx, username, hash, ip); err != nil {
			slog.Error("failed to get or create account", "login", username, "error", err)
			return reject(login.StatusDBGeneralFailure, "Database error")
		}
	}

	if subtle.ConstantTimeCompare([]byte(acc.PasswordHash), []byte(hash)) != 1 {
		return reject(login.StatusInvalidPassword, "Invalid password")
	}
	if acc.Banned() {
		return reject(login.StatusCustomDefinedError, "Account %s is banned", username)
	}

	if err := la.accounts.RecordLogin(ctx, username, ip); err != nil {
		slog.Error("failed to update last login", "login", username, "error", err)
	}
	return nil
}

func (la *LoginApp) replyRecord(p *pendingLogin) ([]byte, *rejection) {
	w := wire.NewWriter(16)
	login.ReplyRecord{ServerAddr: la.base.ExternalAddr(), SessionKey: p.LoginKey}.Write(w)
	if len(p.FilterKey) == 0 {
		return w.Bytes(), nil
	}

	f, err := crypto.NewBlowfishFilter(p.FilterKey)
	if err != nil {
		slog.Warn("unusable session key", "login", p.Username, "error", err)
		return nil, reject(login.StatusMalformedRequest, "Bad session encryption key")
	}
	return f.Encrypt(w.Bytes()), nil
}

// handleProbe answers with key/value string pairs describing the server.
func (la *LoginApp) handleProbe(src wire.Address, hdr mercury.UnpackedHeader, _ *wire.Reader) {
	if !hdr.IsRequest {
		return
	}

	host := la.cfg.ExternalHost
	if host == "" {
		host = la.nub.Address().String()
	}

	b := mercury.NewBundle()
	w := b.StartReply(hdr.ReplyID)
	for _, kv := range [][2]string{
		{protocol.ProbeKeyHostName, host},
		{protocol.ProbeKeyOwnerName, "worldlink"},
		{protocol.ProbeKeyUsersCount, strconv.Itoa(la.base.numProxies())},
		{protocol.ProbeKeyUniverseName, "dev"},
		{protocol.ProbeKeySpaceName, spaceName},
		{protocol.ProbeKeyBinaryID, strconv.FormatUint(uint64(protocol.LoginVersion), 10)},
	} {
		w.WriteString(kv[0])
		w.WriteString(kv[1])
	}
	if err := la.nub.Send(src, b); err != nil {
		slog.Warn("sending probe reply", "to", src, "error", err)
	}
}
