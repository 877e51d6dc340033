// Package casedata はケース周辺の組織・サポート情報のRead Modelを提供する。
//
// ケース、組織の共有先、組織ユニットとメンバー、ユーザー、サポートと担当者、
// アセスメントと提案ユニットを保持する。これらは他サービスが所有するデータであり、
// 本パッケージはドメインイベントを投影（Projection）して読み取り専用の写しを作る。
//
// Reader は通知の宛先解決と未読集計から参照される。
// Projector はイベントフィードから受け取ったイベントでRead Modelを更新する。
package casedata
