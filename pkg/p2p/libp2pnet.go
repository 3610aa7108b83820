// Package p2p delivers payment envelopes between wallets over libp2p:
// gossipsub for nyms without a known peer address, a direct stream for
// contacts that have one.
package p2p

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/uhyunpark/otxwallet/pkg/crypto"
)

const (
	topicPayments   = "otx-payments"
	protocolPayment = protocol.ID("/otx/payment/1.0.0")

	maxEnvelope = 4 << 20
	ackOK       = "ok"
	seenLimit   = 4096
)

var ErrNotLocal = errors.New("recipient is not a local nym")

// Handler accepts an envelope for a local nym. It returns ErrNotLocal for
// envelopes addressed elsewhere.
type Handler func(ctx context.Context, env Envelope) error

type Libp2pNet struct {
	h   host.Host
	ps  *pubsub.PubSub
	log *zap.SugaredLogger

	tPayments   *pubsub.Topic
	subPayments *pubsub.Subscription
	cancel      context.CancelFunc

	muH     sync.RWMutex
	handler Handler

	muSeen sync.Mutex
	seen   map[string]struct{}
	order  []string
}

type Libp2pConfig struct {
	ListenAddr string
	Bootstrap  []string
	Logger     *zap.SugaredLogger
}

func NewLibp2pNet(ctx context.Context, cfg Libp2pConfig) (*Libp2pNet, error) {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	var opts []libp2p.Option
	if cfg.ListenAddr != "" {
		maddr, err := ma.NewMultiaddr(cfg.ListenAddr)
		if err != nil {
			return nil, err
		}
		opts = append(opts, libp2p.ListenAddrs(maddr))
	}
	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		cancel()
		h.Close()
		return nil, err
	}

	n := &Libp2pNet{
		h:      h,
		ps:     ps,
		log:    log,
		cancel: cancel,
		seen:   make(map[string]struct{}),
	}

	for _, bs := range cfg.Bootstrap {
		if err := connectMultiaddr(ctx, h, bs); err != nil {
			log.Warnw("bootstrap_connect_failed", "addr", bs, "err", err)
		}
	}

	if n.tPayments, err = ps.Join(topicPayments); err != nil {
		n.Close()
		return nil, err
	}
	if n.subPayments, err = n.tPayments.Subscribe(); err != nil {
		n.Close()
		return nil, err
	}

	h.SetStreamHandler(protocolPayment, n.handlePaymentStream)
	go n.handleGossip(ctx)

	log.Infow("libp2p_ready", "peer", h.ID().String(), "listen", cfg.ListenAddr)
	return n, nil
}

func connectMultiaddr(ctx context.Context, h host.Host, addr string) error {
	m, err := ma.NewMultiaddr(addr)
	if err != nil {
		return err
	}
	info, err := peer.AddrInfoFromP2pAddr(m)
	if err != nil {
		return err
	}
	return h.Connect(ctx, *info)
}

func (n *Libp2pNet) SetHandler(h Handler) { n.muH.Lock(); n.handler = h; n.muH.Unlock() }

func (n *Libp2pNet) Host() host.Host { return n.h }

// Addrs returns dialable /p2p multiaddrs for this host.
func (n *Libp2pNet) Addrs() []string {
	suffix := "/p2p/" + n.h.ID().String()
	out := make([]string, 0, len(n.h.Addrs()))
	for _, a := range n.h.Addrs() {
		out = append(out, a.String()+suffix)
	}
	return out
}

// Connect dials a peer given as a /p2p multiaddr.
func (n *Libp2pNet) Connect(ctx context.Context, addr string) error {
	return connectMultiaddr(ctx, n.h, addr)
}

func (n *Libp2pNet) Close() error {
	if n.subPayments != nil {
		n.subPayments.Cancel()
	}
	if n.tPayments != nil {
		n.tPayments.Close()
	}
	n.cancel()
	return n.h.Close()
}

// PayContact delivers env in the background. With a peer address the
// envelope goes over a direct stream and the result reports the
// recipient's acceptance; otherwise it is published on the payments topic
// and the result only reports the publish.
func (n *Libp2pNet) PayContact(ctx context.Context, env Envelope, peerAddr string) <-chan error {
	done := make(chan error, 1)
	go func() {
		var err error
		if peerAddr != "" {
			err = n.sendDirect(ctx, env, peerAddr)
		} else {
			err = n.publish(ctx, env)
		}
		if err != nil {
			n.log.Warnw("payment_send_failed", "envelope", env.ID, "to", crypto.ShortID(env.Recipient), "err", err)
		} else {
			n.log.Infow("payment_sent", "envelope", env.ID, "to", crypto.ShortID(env.Recipient), "direct", peerAddr != "")
		}
		done <- err
	}()
	return done
}

func (n *Libp2pNet) publish(ctx context.Context, env Envelope) error {
	data, err := gobEncode(env)
	if err != nil {
		return err
	}
	return n.tPayments.Publish(ctx, data)
}

func (n *Libp2pNet) sendDirect(ctx context.Context, env Envelope, peerAddr string) error {
	m, err := ma.NewMultiaddr(peerAddr)
	if err != nil {
		return err
	}
	info, err := peer.AddrInfoFromP2pAddr(m)
	if err != nil {
		return err
	}
	if err := n.h.Connect(ctx, *info); err != nil {
		return err
	}
	stream, err := n.h.NewStream(ctx, info.ID, protocolPayment)
	if err != nil {
		return err
	}
	defer stream.Close()

	data, err := gobEncode(env)
	if err != nil {
		return err
	}
	if _, err := stream.Write(data); err != nil {
		return err
	}
	if err := stream.CloseWrite(); err != nil {
		return err
	}
	ack, err := io.ReadAll(io.LimitReader(stream, 1024))
	if err != nil {
		return err
	}
	if reply := string(ack); reply != ackOK {
		return fmt.Errorf("peer refused payment: %s", reply)
	}
	return nil
}

// inbound

func (n *Libp2pNet) handleGossip(ctx context.Context) {
	for {
		msg, err := n.subPayments.Next(ctx)
		if err != nil {
			return
		}
		if msg.ReceivedFrom == n.h.ID() {
			continue
		}
		var env Envelope
		if err := gobDecode(msg.Data, &env); err != nil {
			continue
		}
		if err := n.deliver(ctx, env); err != nil && !errors.Is(err, ErrNotLocal) {
			n.log.Debugw("gossip_payment_dropped", "envelope", env.ID, "err", err)
		}
	}
}

func (n *Libp2pNet) handlePaymentStream(s network.Stream) {
	defer s.Close()

	data, err := io.ReadAll(io.LimitReader(s, maxEnvelope))
	if err != nil {
		return
	}
	var env Envelope
	if err := gobDecode(data, &env); err != nil {
		s.Write([]byte("undecodable envelope"))
		return
	}
	reply := ackOK
	if err := n.deliver(context.Background(), env); err != nil {
		reply = strings.TrimSpace(err.Error())
	}
	s.Write([]byte(reply))
}

// deliver verifies env, drops repeats and hands it to the handler.
func (n *Libp2pNet) deliver(ctx context.Context, env Envelope) error {
	if err := env.Verify(); err != nil {
		return err
	}
	if !n.markSeen(env.ID) {
		return nil
	}
	n.muH.RLock()
	h := n.handler
	n.muH.RUnlock()
	if h == nil {
		n.forget(env.ID)
		return ErrNotLocal
	}
	if err := h(ctx, env); err != nil {
		n.forget(env.ID)
		return err
	}
	n.log.Infow("payment_received", "envelope", env.ID, "from", crypto.ShortID(env.Sender), "to", crypto.ShortID(env.Recipient))
	return nil
}

func (n *Libp2pNet) markSeen(id string) bool {
	n.muSeen.Lock()
	defer n.muSeen.Unlock()
	if _, ok := n.seen[id]; ok {
		return false
	}
	n.seen[id] = struct{}{}
	n.order = append(n.order, id)
	if len(n.order) > seenLimit {
		delete(n.seen, n.order[0])
		n.order = n.order[1:]
	}
	return true
}

func (n *Libp2pNet) forget(id string) {
	n.muSeen.Lock()
	delete(n.seen, id)
	n.muSeen.Unlock()
}
