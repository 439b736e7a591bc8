// Command syfd is the Share Your Files daemon: it brings up LAN
// discovery, the icon and file-transfer listeners, the picker ingress
// socket, and the orchestrator that routes policy decisions between
// them, then runs until interrupted.
package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/google/uuid"

	"syfd/applog"
	"syfd/config"
	"syfd/discovery"
	"syfd/filetransfer"
	"syfd/icontransfer"
	"syfd/model"
	"syfd/netmon"
	"syfd/orchestrator"
	"syfd/picker"
	"syfd/registry"
	"syfd/storage"
	"syfd/syflock"
)

func main() {
	logger := applog.Default()

	paths, err := config.ResolvePaths()
	if err != nil {
		log.Fatalf("startup failed while resolving paths: %v", err)
	}

	lock, err := syflock.Acquire(paths.LockFilePath("syfd"))
	if err != nil {
		log.Fatalf("startup failed: another syfd instance holds %s: %v", paths.LockFilePath("syfd"), err)
	}
	defer func() { _ = lock.Release() }()

	identity, err := config.LoadOrCreate(paths)
	if err != nil {
		log.Fatalf("startup failed while loading identity: %v", err)
	}

	peers, err := storage.LoadPeers(paths.PeersPath())
	if err != nil {
		log.Fatalf("startup failed while loading peers: %v", err)
	}

	store, dbPath, err := storage.Open(paths.DataPath)
	if err != nil {
		log.Fatalf("startup failed while opening database: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Printf("database close error: %v", err)
		}
	}()

	fmt.Printf("User:            %s %s (%s)\n", identity.FirstName, identity.LastName, identity.UUID)
	fmt.Printf("Conf Directory:  %s\n", paths.ConfPath)
	fmt.Printf("Data Directory:  %s\n", paths.DataPath)
	fmt.Printf("Database File:   %s\n", dbPath)

	reg := registry.New(identity, peers)
	reg.Start()
	defer reg.Stop()

	mon := netmon.New()
	mon.Start()
	defer mon.Stop()

	pickerServer, err := picker.Listen(pickerSocketPath(paths), logger)
	if err != nil {
		log.Fatalf("startup failed while starting picker ingress: %v", err)
	}
	defer func() { _ = pickerServer.Close() }()

	iconServer, err := icontransfer.Listen(addrForPort(identity.ITPort), func() *model.Icon {
		return reg.Local().Icon
	}, logger)
	if err != nil {
		log.Fatalf("startup failed while starting icon listener: %v", err)
	}
	defer func() { _ = iconServer.Close() }()
	go iconServer.Serve()

	fetchCoordinator := icontransfer.NewFetchCoordinator(func(peerID uuid.UUID, icon model.Icon) {
		reg.SetPeerIcon(peerID, icon)
		if err := storage.WriteCachedIcon(paths.IconsDir(), peerID, icon.Bytes); err != nil {
			logger.Warnf("cache icon for peer %s: %v", peerID, err)
		}
	}, logger)
	defer fetchCoordinator.Stop()

	disc, err := discovery.New(func() discovery.Identity {
		local := reg.Local()
		var iconSHA1 *[20]byte
		if local.Icon != nil {
			sha := local.Icon.SHA1
			iconSHA1 = &sha
		}
		return discovery.Identity{
			UUID:      local.UUID,
			FirstName: local.FirstName,
			LastName:  local.LastName,
			IPv4:      localBoundIPv4(mon),
			FTPort:    local.FTPort,
			ITPort:    local.ITPort,
			IconSHA1:  iconSHA1,
		}
	})
	if err != nil {
		log.Fatalf("startup failed while starting discovery: %v", err)
	}
	defer disc.Stop()

	orch := orchestrator.New(orchestrator.Config{
		Registry:      reg,
		Discovery:     disc,
		Netmon:        mon,
		Picker:        pickerServer,
		IconFetcher:   fetchCoordinator,
		IdentitySaver: identitySaver{paths: paths},
		Logger:        logger,
	})

	ftServer, err := filetransfer.Listen(addrForPort(identity.FTPort), filetransfer.ServerConfig{
		LocalUUID:     identity.UUID,
		Anonymous:     identity.OperationalMode == model.Offline,
		SharingSink:   orch,
		DuplicateSink: orch,
		DestResolver:  orch.ResolveDestination,
		Store:         filetransfer.NewCheckpointStore(store),
		Logger:        logger,
	})
	if err != nil {
		log.Fatalf("startup failed while starting file-transfer listener: %v", err)
	}
	defer func() { _ = ftServer.Close() }()

	if identity.FTPort != ftServer.Port() || identity.ITPort != iconServer.Port() {
		identity.FTPort = ftServer.Port()
		identity.ITPort = iconServer.Port()
		reg.SetLocal(identity)
		if err := config.Save(paths, identity); err != nil {
			log.Printf("persist bound ports: %v", err)
		}
	}

	orch.AttachFTServer(ftServer)
	disc.Start()
	orch.Start()
	go applyHeadlessDefaults(orch, logger)

	fmt.Printf("FT Port:         %d\n", ftServer.Port())
	fmt.Printf("Icon Port:       %d\n", iconServer.Port())
	fmt.Println("Status:          running (press Ctrl+C to stop)")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	fmt.Println("Status:          shutting down")
	orch.Stop()
	if err := storage.SavePeers(paths.PeersPath(), reg.Peers()); err != nil {
		log.Printf("persist peers: %v", err)
	}
}

// applyHeadlessDefaults resolves every Ask-routed orchestrator event
// with spec.md's conservative defaults, since syfd has no attached UI
// of its own: reject unsolicited shares, keep both copies on a
// duplicate-name conflict, log network rebinds, and apply a forced
// offline transition to the registry's local identity.
func applyHeadlessDefaults(orch *orchestrator.Orchestrator, logger applog.Logger) {
	elog := logger.With("orchestrator")
	for ev := range orch.Events() {
		switch ev.Type {
		case orchestrator.EventSharingDecisionNeeded:
			ev.Session.ResolveSharing(model.Reject, "")
		case orchestrator.EventDuplicateFileDecisionNeeded:
			ev.Session.ResolveDuplicate(model.DuplicateKeepBoth, false)
		case orchestrator.EventDuplicateNameDetected:
			elog.Warnf("duplicate display name detected: peer %s", ev.Peer.UUID)
		case orchestrator.EventTransferCompleted:
			elog.Infof("transfer completed with peer %s", ev.Session.PeerUUID)
		case orchestrator.EventNetworkRebindNeeded:
			elog.Infof("network rebind: now on %s (%s)", ev.Entry.InterfaceName, ev.Entry.IPv4)
		case orchestrator.EventForcedOffline:
			elog.Warnf("no usable network entry remains, forced offline")
			if err := orch.RequestModeChange(model.Offline, true); err != nil {
				elog.Warnf("force offline: %v", err)
			}
		case orchestrator.EventPathsReceived:
			elog.Infof("paths received from picker: %d entries awaiting peer selection", len(ev.Paths))
		}
	}
}

// identitySaver adapts config.Save to orchestrator.IdentitySaver, so a
// UUID regenerated after a collision (orchestrator.handleUUIDCollision)
// is persisted back to me.json.
type identitySaver struct {
	paths config.Paths
}

func (s identitySaver) Save(identity model.UserIdentity) error {
	return config.Save(s.paths, identity)
}

func addrForPort(port uint16) string {
	if port == 0 {
		return ":0"
	}
	return ":" + strconv.Itoa(int(port))
}

func pickerSocketPath(paths config.Paths) string {
	return paths.ConfPath + "/" + picker.SocketName
}

// localBoundIPv4 reports the first currently-usable network entry's
// address, or nil when none remain (the discovery send loop's own
// failure counter handles the all-offline case from there).
func localBoundIPv4(mon *netmon.Monitor) net.IP {
	entries := mon.List()
	if len(entries) == 0 {
		return nil
	}
	return entries[0].IPv4
}
