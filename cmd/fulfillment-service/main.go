// cmd/fulfillment-service/main.go
package main

import (
	"context"
	"log"
	"strings"

	"fulcrum/internal/pkg/bootstrap"
	"fulcrum/internal/pkg/httpclient"
	"fulcrum/internal/pkg/mq"
	"fulcrum/internal/pkg/redis"
	"fulcrum/internal/service/fulfillment/application"
	"fulcrum/internal/service/fulfillment/domain/port"
	"fulcrum/internal/service/fulfillment/infrastructure"
	"fulcrum/internal/service/fulfillment/infrastructure/adapter"
	"fulcrum/internal/service/fulfillment/interfaces"
	"fulcrum/internal/zookeeper"

	"go.opentelemetry.io/otel"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

const (
	serviceName = "fulfillment-service"

	dispatchTopic           = "fulfillment-dispatch-topic"
	dispatchDLT             = "fulfillment-dispatch-topic.DLT"
	dispatchConsumerGroupID = "fulfillment-dispatch-consumer-group"
	notificationTopic       = "notifications"
	statusEventTopic        = "fulfillment-status-events"
)

// main 函数是应用的"组装根" (Composition Root)
// 它的核心职责是：创建并组装所有依赖项，然后启动应用。
func main() {
	cfg := bootstrap.GetCurrentConfig()
	tracer := otel.Tracer(serviceName)
	brokers := strings.Split(cfg.Infra.Kafka.Brokers, ",")

	// 1. 基础设施客户端
	db, err := gorm.Open(mysql.Open(cfg.Infra.MySQL.DSN), &gorm.Config{})
	if err != nil {
		log.Fatalf("failed to connect to mysql: %v", err)
	}
	if err := db.AutoMigrate(
		&infrastructure.OrderModel{},
		&infrastructure.UnitOrderModel{},
		&infrastructure.CompensationModel{},
		&infrastructure.ServiceModel{},
		&infrastructure.InvoiceModel{},
		&infrastructure.VoucherModel{},
	); err != nil {
		log.Fatalf("failed to migrate schema: %v", err)
	}

	redisClient, err := redis.NewClient(cfg.Infra.Redis.Addrs)
	if err != nil {
		log.Fatalf("failed to initialize redis client: %v", err)
	}

	zkConn, err := zookeeper.Connect(cfg.Infra.Zookeeper.Addrs)
	if err != nil {
		log.Fatalf("failed to connect to zookeeper: %v", err)
	}

	dispatchWriter := mq.NewKafkaWriter(brokers, dispatchTopic)
	dltWriter := mq.NewKafkaWriter(brokers, dispatchDLT)
	notificationWriter := mq.NewKafkaWriter(brokers, notificationTopic)
	statusEventWriter := mq.NewKafkaWriter(brokers, statusEventTopic)
	dispatchReader := mq.NewKafkaReader(brokers, dispatchTopic, dispatchConsumerGroupID)

	// 2. 出站适配器
	httpClient := httpclient.NewClient(tracer)
	providerClients := make([]port.ProviderClient, 0, len(cfg.App.Providers))
	for _, pc := range cfg.App.Providers {
		client, err := adapter.NewPanelHTTPProvider(pc, httpClient)
		if err != nil {
			log.Fatalf("failed to build provider client %s: %v", pc.Code, err)
		}
		providerClients = append(providerClients, client)
	}
	providerRegistry := adapter.NewStaticProviderRegistry(providerClients...)

	flashSaleStock, err := adapter.NewFlashSaleRedisAdapter(redisClient)
	if err != nil {
		log.Fatalf("failed to initialize flash sale adapter: %v", err)
	}
	voucherLedger := adapter.NewVoucherGormAdapter(db)
	notificationAdapter := adapter.NewNotificationKafkaAdapter(notificationWriter, statusEventWriter)
	dispatchQueue := adapter.NewDispatchQueueKafkaAdapter(dispatchWriter)

	// 3. 仓储
	orderRepo := infrastructure.NewGormOrderRepository(db)
	catalogRepo := infrastructure.NewGormCatalogRepository(db)
	invoiceRepo := infrastructure.NewGormInvoiceRepository(db)
	compensationRepo := infrastructure.NewGormCompensationRepository(db)

	// 4. 应用层：补偿引擎先于事件扇出构建，它自己就是一个事件消费者
	compensator := application.NewCompensationEngine(compensationRepo, orderRepo, flashSaleStock, voucherLedger, tracer)
	statusStream := interfaces.NewStatusStreamHandler()
	eventFanout := application.EventFanout{compensator, notificationAdapter, statusStream}

	coordinator := application.NewDispatchCoordinator(
		orderRepo, catalogRepo, providerRegistry, notificationAdapter, eventFanout, tracer,
		cfg.App.Dispatch.CallTimeout, cfg.App.Dispatch.InterCallDelay,
	)

	lockFactory := func(orderID string) application.Locker {
		return zookeeper.NewOrderLock(zkConn, orderID)
	}
	reconciler := application.NewStatusReconciler(orderRepo, providerRegistry, eventFanout, lockFactory, tracer,
		application.ReconcileOptions{
			SweepInterval:    cfg.App.Reconcile.SweepInterval,
			MinPollInterval:  cfg.App.Reconcile.MinPollInterval,
			QueryTimeout:     cfg.App.Dispatch.CallTimeout,
			BatchSize:        cfg.App.Reconcile.BatchSize,
			MaxProcessingAge: cfg.App.Reconcile.MaxProcessingAge,
		})

	appService := application.NewFulfillmentApplicationService(
		orderRepo, dispatchQueue, coordinator, reconciler, compensator, tracer)

	// 5. 后台任务：派发消费者 + 对账循环
	consumer := infrastructure.NewDispatchConsumerAdapter(dispatchReader, appService, mq.NewFailureHandler(dltWriter))
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	consumer.Start(workerCtx)
	go reconciler.Run(workerCtx)

	// 6. 入站边界 + 通用启动/优雅关停
	callbackHandler := interfaces.NewPaymentCallbackHandler(appService, invoiceRepo, cfg.App.Gateways)
	opsHandler := interfaces.NewOpsHandler(appService)

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: cfg.App.ServiceName,
		Port:        cfg.App.Port,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			callbackHandler.RegisterRoutes(appCtx.Mux)
			opsHandler.RegisterRoutes(appCtx.Mux)
			statusStream.RegisterRoutes(appCtx.Mux)
		},
		OnShutdown: func(ctx context.Context) {
			stopWorkers()
			consumer.Stop(ctx)
			statusStream.Close()
			dispatchWriter.Close()
			dltWriter.Close()
			notificationWriter.Close()
			statusEventWriter.Close()
			redisClient.Close()
			zkConn.Close()
		},
	})
}
