// Package objects содержит работу с объектным хранилищем (S3)
// и финализаторы стадий, которые переносят результаты job:
//   - IdentityPublisher — результат identity resolution в интегрированный префикс
//   - SegmentExporter   — выход batch inference в CSV
package objects
