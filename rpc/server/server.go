package server

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/ValentinKolb/dDoc/lib/db"
	"github.com/ValentinKolb/dDoc/lib/db/engines/boltdb"
	"github.com/ValentinKolb/dDoc/lib/repl/raftrepl"
	"github.com/ValentinKolb/dDoc/lib/role"
	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/ValentinKolb/dDoc/lib/store/dstore"
	"github.com/ValentinKolb/dDoc/lib/store/lstore"
	"github.com/ValentinKolb/dDoc/rpc/common"
	"github.com/ValentinKolb/dDoc/rpc/serializer"
	"github.com/ValentinKolb/dDoc/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("rpc")

// serverShard is a struct that represents a shard in the RPC server
// It contains the store it encapsulates, the adapter that handles requests
// for the store and the function releasing the resources of the shard
type serverShard struct {
	Store   store.IStore
	Adapter IRPCServerAdapter
	close   func() error
}

// NewRPCServer creates a new RPC server
// It takes a config, transport and serializer as parameters
//
// Usage:
//
//	s := server.NewRPCServer(
//		*config,
//		http.NewHttpServerTransport(),
//		serializer.NewMsgpackSerializer(),
//	)
//
//	if err := s.Serve(); err != nil {
//		panic(err)
//	 }
func NewRPCServer(
	config common.ServerConfig,
	transport transport.IRPCServerTransport,
	serializer serializer.IRPCSerializer,
) *RPCServer {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	Logger.Infof("Created RPC Server")
	Logger.Infof(config.String())

	return &RPCServer{
		config:     config,
		transport:  transport,
		serializer: serializer,
		shards:     xsync.NewMapOf[uint64, serverShard](),
	}
}

// RPCServer serves the shards of one member.
type RPCServer struct {
	config     common.ServerConfig
	transport  transport.IRPCServerTransport
	serializer serializer.IRPCSerializer
	shards     *xsync.MapOf[uint64, serverShard]
	host       *raftrepl.Host
}

func (s *RPCServer) registerTransportHandler() {
	s.transport.RegisterHandler(s.handle)
}

// handle decodes a request, lets the adapter of the shard handle it and
// encodes the response.
func (s *RPCServer) handle(shardId uint64, req []byte) []byte {
	var msg common.Message
	var respMsg common.Message

	shard, ok := s.shards.Load(shardId)
	if !ok {
		respMsg = *common.NewErrorResponse(fmt.Sprintf("shard %d not found", shardId))
	} else if err := s.serializer.Deserialize(req, &msg); err != nil {
		respMsg = *common.NewErrorResponse(fmt.Sprintf("failed to deserialize request: %s", err))
	} else {
		respMsg = *shard.Adapter.Handle(&msg, shard.Store)
	}

	val, err := s.serializer.Serialize(respMsg)
	if err != nil {
		Logger.Errorf("failed to serialize response to %s: %v", msg.MsgType, err)
		val, _ = s.serializer.Serialize(*common.NewErrorResponse(fmt.Sprintf("failed to serialize response: %s", err)))
	}
	return val
}

func (s *RPCServer) init() error {
	if err := s.config.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := common.InitLoggers(s.config); err != nil {
		return err
	}

	if err := os.MkdirAll(s.config.DataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	// Only create the NodeHost if we have replicated shards
	if s.config.HasReplicatedShard() {
		host, err := raftrepl.NewHost(s.config.ToNodeHostConfig())
		if err != nil {
			return err
		}
		s.host = host
	}

	for _, shardConfig := range s.config.Shards {
		shard, err := s.openShard(shardConfig)
		if err != nil {
			return err
		}
		s.shards.Store(shardConfig.ShardID, shard)
	}

	Logger.Infof("dDoc setup completed successfully")
	s.registerTransportHandler()
	return nil
}

func (s *RPCServer) openShard(shardConfig common.ServerShard) (serverShard, error) {
	engine, err := boltdb.Open(s.config.EngineFile(shardConfig.ShardID), nil)
	if err != nil {
		return serverShard{}, fmt.Errorf("failed to open engine of shard %d: %w", shardConfig.ShardID, err)
	}

	switch shardConfig.Type {
	case common.ShardTypeLStore:
		st, err := lstore.NewLocalStore(engine)
		if err != nil {
			engine.Close()
			return serverShard{}, fmt.Errorf("failed to open shard %d: %w", shardConfig.ShardID, err)
		}
		Logger.Infof("created standalone store for shard %d", shardConfig.ShardID)
		return serverShard{Store: st, Adapter: NewIStoreServerAdapter(), close: engine.Close}, nil

	case common.ShardTypeDStore:
		return s.openReplicatedShard(shardConfig.ShardID, engine)

	default:
		engine.Close()
		return serverShard{}, fmt.Errorf("invalid shard type: %s", shardConfig.Type)
	}
}

func (s *RPCServer) openReplicatedShard(shardID uint64, engine db.Engine) (serverShard, error) {
	if s.host == nil {
		engine.Close()
		return serverShard{}, fmt.Errorf("node host is nil, cannot create replicated store")
	}

	r, err := s.host.StartReplica(s.config.ClusterMembers, false, s.config.ToDragonboatConfig(shardID), engine)
	if err != nil {
		engine.Close()
		return serverShard{}, err
	}

	timeout := s.config.WriteTimeout()
	roles := role.New(r, role.Config{
		CatchUpTimeout: s.config.CatchUpTimeout(),
		SweepTimeout:   6 * timeout,
	})
	Logger.Infof("created replicated store for shard %d", shardID)

	return serverShard{
		Store:   dstore.NewDistributedStore(r, roles, timeout),
		Adapter: NewIStoreServerAdapter(),
		close: func() error {
			roles.Close()
			return r.Close()
		},
	}, nil
}

// Serve starts the RPC server
// This function will also initialize the server plus the shards and start the transport layer
func (s *RPCServer) Serve() error {
	if err := s.init(); err != nil {
		return errors.Join(err, s.Close())
	}
	return s.transport.Listen(s.config)
}

// Close stops the transport and releases all shards.
func (s *RPCServer) Close() error {
	errs := []error{s.transport.Close()}
	s.shards.Range(func(id uint64, shard serverShard) bool {
		if err := shard.close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close shard %d: %w", id, err))
		}
		s.shards.Delete(id)
		return true
	})
	if s.host != nil {
		s.host.Close()
		s.host = nil
	}
	return errors.Join(errs...)
}
