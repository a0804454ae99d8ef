package quic

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/binary"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"log"
	"math/big"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/han-fei/fleetwatch/collector/internal/config"
	"github.com/han-fei/fleetwatch/collector/internal/models"
)

// Server QUIC推送服务器。客户端建连后只收不发，
// 每个事件走一条单向流，4字节大端长度前缀加JSON。
type Server struct {
	config      config.QUICConfig
	listener    *quic.Listener
	connections sync.Map // map[string]quic.Connection
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	running     int32
}

// NewServer 创建新的QUIC推送服务器
func NewServer(cfg config.QUICConfig) (*Server, error) {
	tlsConfig, err := generateTLSConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("生成TLS配置失败: %v", err)
	}

	idle := cfg.MaxIdleTimeout
	if idle <= 0 {
		idle = 30 * time.Second
	}
	quicConfig := &quic.Config{
		MaxIdleTimeout:  idle,
		KeepAlivePeriod: idle / 2,
	}

	listener, err := quic.ListenAddr(cfg.Addr, tlsConfig, quicConfig)
	if err != nil {
		return nil, fmt.Errorf("创建QUIC监听器失败: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		config:   cfg,
		listener: listener,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start 启动服务器
func (s *Server) Start() error {
	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		return fmt.Errorf("服务器已经在运行")
	}

	log.Printf("QUIC推送服务器启动，监听地址: %s", s.config.Addr)

	s.wg.Add(1)
	go s.acceptConnections()

	return nil
}

// Stop 停止服务器
func (s *Server) Stop() error {
	if !atomic.CompareAndSwapInt32(&s.running, 1, 0) {
		return fmt.Errorf("服务器未在运行")
	}

	s.cancel()

	if err := s.listener.Close(); err != nil {
		log.Printf("关闭QUIC监听器失败: %v", err)
	}

	s.connections.Range(func(key, value interface{}) bool {
		if conn, ok := value.(quic.Connection); ok {
			conn.CloseWithError(0, "服务器关闭")
		}
		return true
	})

	s.wg.Wait()

	log.Println("QUIC推送服务器已关闭")
	return nil
}

// acceptConnections 接受连接
func (s *Server) acceptConnections() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept(s.ctx)
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
				log.Printf("接受QUIC连接失败: %v", err)
				continue
			}
		}

		connID := conn.RemoteAddr().String()
		s.connections.Store(connID, conn)
		log.Printf("新的QUIC订阅连接: %s", connID)

		s.wg.Add(1)
		go s.watchConnection(connID, conn)
	}
}

// watchConnection 等待连接结束并清理
func (s *Server) watchConnection(connID string, conn quic.Connection) {
	defer s.wg.Done()

	select {
	case <-s.ctx.Done():
	case <-conn.Context().Done():
	}

	s.connections.Delete(connID)
	log.Printf("QUIC订阅连接已关闭: %s", connID)
}

// PushReport 向所有订阅连接推送一条指标上报事件
func (s *Server) PushReport(report *models.Report) {
	s.push("report", report)
}

// PushAlert 向所有订阅连接推送一条告警状态变更事件
func (s *Server) PushAlert(state *models.AlertState) {
	s.push("alert", state)
}

func (s *Server) push(eventType string, payload interface{}) {
	if atomic.LoadInt32(&s.running) != 1 {
		return
	}

	message := map[string]interface{}{
		"type": eventType,
		"data": payload,
	}
	data, err := json.Marshal(message)
	if err != nil {
		log.Printf("序列化%s事件失败: %v", eventType, err)
		return
	}

	s.connections.Range(func(key, value interface{}) bool {
		conn, ok := value.(quic.Connection)
		if !ok {
			return true
		}
		if err := s.writeEvent(conn, data); err != nil {
			// 推送尽力而为，推不动的连接直接断开
			log.Printf("向 %v 推送事件失败: %v", key, err)
			conn.CloseWithError(1, "推送失败")
			s.connections.Delete(key)
		}
		return true
	})
}

// writeEvent 在一条新的单向流上写出一个完整事件
func (s *Server) writeEvent(conn quic.Connection, data []byte) error {
	openCtx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()

	stream, err := conn.OpenUniStreamSync(openCtx)
	if err != nil {
		return err
	}
	defer stream.Close()

	if err := binary.Write(stream, binary.BigEndian, uint32(len(data))); err != nil {
		return err
	}
	if _, err := stream.Write(data); err != nil {
		return err
	}
	return nil
}

// Addr 实际监听地址
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// ConnectionCount 当前订阅连接数
func (s *Server) ConnectionCount() int {
	count := 0
	s.connections.Range(func(key, value interface{}) bool {
		count++
		return true
	})
	return count
}

// generateTLSConfig 生成TLS配置
func generateTLSConfig(cfg config.QUICConfig) (*tls.Config, error) {
	// 如果提供了证书文件，使用文件中的证书
	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("加载证书文件失败: %v", err)
		}

		return &tls.Config{
			Certificates: []tls.Certificate{cert},
			NextProtos:   []string{"fleetwatch-push"},
		}, nil
	}

	// 生成自签名证书
	return generateSelfSignedTLSConfig()
}

// generateSelfSignedTLSConfig 生成自签名TLS配置
func generateSelfSignedTLSConfig() (*tls.Config, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"Fleetwatch QUIC Push"},
			Country:      []string{"CN"},
		},
		NotBefore:   time.Now(),
		NotAfter:    time.Now().Add(365 * 24 * time.Hour), // 1年有效期
		KeyUsage:    x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IPAddresses: []net.IP{net.ParseIP("127.0.0.1"), net.ParseIP("::1")},
		DNSNames:    []string{"localhost"},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{"fleetwatch-push"},
	}, nil
}
