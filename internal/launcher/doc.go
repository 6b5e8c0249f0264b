// Package launcher — передача runs движку исполнения.
//
// Координатор не выполняет runs сам: захваченный run
// публикуется в runs.launch, и движок забирает его оттуда.
// Медленный движок не считается ошибкой — run просто
// занимает слот, пока не придёт run.finished.
package launcher
